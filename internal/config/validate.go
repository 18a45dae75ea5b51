package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.SourceURL == "" {
		errs = append(errs, ValidationError{Field: "FHIR_SOURCE_URL", Message: "required"})
	} else if err := validateBaseURL(cfg.SourceURL); err != nil {
		errs = append(errs, ValidationError{Field: "FHIR_SOURCE_URL", Message: err.Error()})
	}

	if cfg.SinkURL == "" {
		errs = append(errs, ValidationError{Field: "FHIR_SINK_URL", Message: "required"})
	} else if err := validateBaseURL(cfg.SinkURL); err != nil {
		errs = append(errs, ValidationError{Field: "FHIR_SINK_URL", Message: err.Error()})
	}

	switch cfg.SeenBackend {
	case "file":
		if cfg.SeenFilePath == "" {
			errs = append(errs, ValidationError{Field: "SEEN_FILE_PATH", Message: "required for file backend"})
		}
	case "redis":
		if cfg.RedisAddr == "" {
			errs = append(errs, ValidationError{Field: "REDIS_ADDR", Message: "required for redis backend"})
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			errs = append(errs, ValidationError{Field: "DATABASE_URL", Message: "required for postgres backend"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "SEEN_BACKEND",
			Message: fmt.Sprintf("must be 'file', 'redis' or 'postgres', got %q", cfg.SeenBackend),
		})
	}

	if cfg.RetryBackoffBaseStr != "" {
		if d, err := time.ParseDuration(cfg.RetryBackoffBaseStr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "RETRY_BACKOFF_BASE",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d < 0 {
			errs = append(errs, ValidationError{Field: "RETRY_BACKOFF_BASE", Message: "must not be negative"})
		}
	}

	if cfg.HTTPTimeoutStr != "" {
		if d, err := time.ParseDuration(cfg.HTTPTimeoutStr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "HTTP_TIMEOUT",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{Field: "HTTP_TIMEOUT", Message: "must be positive"})
		}
	}

	if cfg.HTTPShutdownTimeoutStr != "" {
		if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "HTTP_SHUTDOWN_TIMEOUT",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{Field: "HTTP_SHUTDOWN_TIMEOUT", Message: "must be positive"})
		}
	}

	if cfg.CircuitBreakerCooldownStr != "" {
		if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "CIRCUIT_BREAKER_COOLDOWN",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{Field: "CIRCUIT_BREAKER_COOLDOWN", Message: "must be positive"})
		}
	}

	if cfg.OpenHIMAPIURL != "" {
		if err := validateBaseURL(cfg.OpenHIMAPIURL); err != nil {
			errs = append(errs, ValidationError{Field: "OPENHIM_API_URL", Message: err.Error()})
		}
		if cfg.CallbackURL == "" {
			errs = append(errs, ValidationError{Field: "CALLBACK_URL", Message: "required when OPENHIM_API_URL is set"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateBaseURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
