package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// GetEnvOrDefault retrieves an environment variable or returns a default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// MustGetEnv retrieves an environment variable or panics if not set
// Use this for required configuration during service initialization
func MustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return value
}

// GetEnvInt retrieves an environment variable as an integer
// Returns the default value if not set or invalid
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetEnvBool retrieves an environment variable as a boolean
// Accepts "true", "1", "yes", "on" (case-insensitive) for true
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		switch value {
		case "yes", "on", "Yes", "YES", "On", "ON":
			return true
		case "no", "off", "No", "NO", "Off", "OFF":
			return false
		}
	}
	return defaultValue
}

// GetEnvDuration retrieves an environment variable as a time.Duration
// Supports Go duration strings (e.g. "5m", "1h30m", "24h")
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
