package utils

import "testing"

func TestT_Fallback(t *testing.T) {
	if got := T("fr", "health.ok"); got != "ok" {
		t.Fatalf("fallback to en failed: %s", got)
	}
	if got := T("es", "no.such.key"); got != "no.such.key" {
		t.Fatalf("unknown key should echo, got %s", got)
	}
}

func TestT_LocalesCoverEnglishKeys(t *testing.T) {
	for locale, m := range translations {
		for key := range translations["en"] {
			if _, ok := m[key]; !ok {
				t.Errorf("locale %s missing %s", locale, key)
			}
		}
	}
}
