package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for problems that would make the client misbehave.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.InstallationID == "" {
		errs = append(errs, "DEVICE_INSTALLATION_ID is required")
	}

	// Session token secret
	if len(c.Auth.TokenSecret) < 32 {
		errs = append(errs, "AUTH_TOKEN_SECRET must be at least 32 characters")
	}

	if c.Objects.Bucket == "" {
		errs = append(errs, "OBJECTS_BUCKET is required")
	}
	if c.Objects.URLExpiry <= 0 {
		errs = append(errs, "OBJECTS_URL_EXPIRY must be positive")
	}

	// Port ranges
	if c.Prefs.Port < 1 || c.Prefs.Port > 65535 {
		errs = append(errs, fmt.Sprintf("PREFS_REDIS_PORT must be 1–65535, got %d", c.Prefs.Port))
	}
	if c.Docs.Redis.Port < 1 || c.Docs.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DOCS_REDIS_PORT must be 1–65535, got %d", c.Docs.Redis.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}

	if c.Docs.TxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("DOCS_TX_ATTEMPTS must be at least 1, got %d", c.Docs.TxAttempts))
	}

	limits := map[string]int{
		"LIMITS_MESSAGES":          c.Limits.Messages,
		"LIMITS_EXERCISES":         c.Limits.Exercises,
		"LIMITS_AD_EXERCISES":      c.Limits.AdExercises,
		"LIMITS_IMPROVISATIONS":    c.Limits.Improvisations,
		"LIMITS_AD_IMPROVISATIONS": c.Limits.AdImprovisations,
	}
	for _, name := range []string{"LIMITS_MESSAGES", "LIMITS_EXERCISES", "LIMITS_AD_EXERCISES", "LIMITS_IMPROVISATIONS", "LIMITS_AD_IMPROVISATIONS"} {
		if limits[name] < 0 {
			errs = append(errs, fmt.Sprintf("%s must not be negative, got %d", name, limits[name]))
		}
	}

	if c.Billing.RestoreTimeout <= 0 {
		errs = append(errs, "BILLING_RESTORE_TIMEOUT must be positive")
	}

	// Feedback needs a key, but the rest of the client works without it.
	if c.OpenAI.APIKey == "" {
		slog.Warn("OPENAI_API_KEY is empty, AI feedback will fail")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
