package env

import (
	"os"
	"strconv"
	"strings"
)

// GetEnvOrDefault returns the value of key or fallback when unset or empty.
func GetEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvBoolOrDefault parses key as a boolean, accepting the strconv forms
// plus yes/no and on/off. Unset or unparsable values return fallback.
func GetEnvBoolOrDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// GetEnvIntOrDefault parses key as an integer, returning fallback when the
// variable is unset or malformed.
func GetEnvIntOrDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
