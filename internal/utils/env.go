package utils

import (
	"os"
	"strings"
	"time"
)

// SafeEnv returns the environment variable value for key, or fallback if empty.
func SafeEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// EnvBool reports the boolean value of key; unset or unparseable means fallback.
func EnvBool(key string, fallback bool) bool {
	switch strings.ToLower(SafeEnv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

// EnvDuration parses key with time.ParseDuration; unset or invalid means fallback.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	v := SafeEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// EnvList splits a comma-separated variable, dropping empty entries.
func EnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(SafeEnv(key, ""), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
