package utils

import (
	"testing"
	"time"
)

func TestSafeEnv(t *testing.T) {
	const key = "_EMTRIP_TEST_SAFEENV"
	t.Setenv(key, "")
	if got := SafeEnv(key, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv(key, " value ")
	if got := SafeEnv(key, "fallback"); got != "value" {
		t.Fatalf("expected 'value', got %q", got)
	}
}

func TestEnvBool(t *testing.T) {
	const key = "_EMTRIP_TEST_BOOL"
	t.Setenv(key, "yes")
	if !EnvBool(key, false) {
		t.Fatalf("yes should be true")
	}
	t.Setenv(key, "maybe")
	if !EnvBool(key, true) {
		t.Fatalf("unparseable should use fallback")
	}
}

func TestEnvDuration(t *testing.T) {
	const key = "_EMTRIP_TEST_DURATION"
	t.Setenv(key, "45s")
	if got := EnvDuration(key, time.Second); got != 45*time.Second {
		t.Fatalf("got %v", got)
	}
	t.Setenv(key, "soon")
	if got := EnvDuration(key, time.Second); got != time.Second {
		t.Fatalf("invalid value should fall back, got %v", got)
	}
}

func TestEnvList(t *testing.T) {
	const key = "_EMTRIP_TEST_LIST"
	t.Setenv(key, "manual/confirm_survey, ,manual/demographic_survey")
	got := EnvList(key)
	if len(got) != 2 || got[0] != "manual/confirm_survey" || got[1] != "manual/demographic_survey" {
		t.Fatalf("got %v", got)
	}
}
