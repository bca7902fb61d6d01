package env

import "testing"

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("SOLGATE_TEST_STRING", "custom")
	if got := GetEnvOrDefault("SOLGATE_TEST_STRING", "fallback"); got != "custom" {
		t.Errorf("Expected custom, got %s", got)
	}
	if got := GetEnvOrDefault("SOLGATE_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback, got %s", got)
	}
	t.Setenv("SOLGATE_TEST_EMPTY", "")
	if got := GetEnvOrDefault("SOLGATE_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback for empty value, got %s", got)
	}
}

func TestGetEnvBoolOrDefault(t *testing.T) {
	cases := []struct {
		value    string
		fallback bool
		expected bool
	}{
		{"true", false, true},
		{"false", true, false},
		{"1", false, true},
		{"0", true, false},
		{"yes", false, true},
		{"no", true, false},
		{"on", false, true},
		{"off", true, false},
		{"YES", false, true},
		{"garbage", true, true},
		{"garbage", false, false},
	}

	for _, tc := range cases {
		t.Setenv("SOLGATE_TEST_BOOL", tc.value)
		if got := GetEnvBoolOrDefault("SOLGATE_TEST_BOOL", tc.fallback); got != tc.expected {
			t.Errorf("Expected %v for %q (fallback %v), got %v", tc.expected, tc.value, tc.fallback, got)
		}
	}

	if got := GetEnvBoolOrDefault("SOLGATE_TEST_BOOL_MISSING", true); !got {
		t.Error("Expected fallback true for unset variable")
	}
}

func TestGetEnvIntOrDefault(t *testing.T) {
	t.Setenv("SOLGATE_TEST_INT", "42")
	if got := GetEnvIntOrDefault("SOLGATE_TEST_INT", 7); got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
	t.Setenv("SOLGATE_TEST_INT", "not-a-number")
	if got := GetEnvIntOrDefault("SOLGATE_TEST_INT", 7); got != 7 {
		t.Errorf("Expected fallback 7 for malformed value, got %d", got)
	}
	if got := GetEnvIntOrDefault("SOLGATE_TEST_INT_MISSING", 7); got != 7 {
		t.Errorf("Expected fallback 7 for unset variable, got %d", got)
	}
}
