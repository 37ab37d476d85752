package config

import (
	"fmt"
	"strings"

	"aqualedger/native/authority"
)

// MinJWTSecretBytes is the shortest accepted HS256 signing secret.
var MinJWTSecretBytes = 32

func Validate(c *Config) error {
	if strings.TrimSpace(c.Administrator) == "" {
		return fmt.Errorf("administrator must be set (or LEDGER_ADMIN)")
	}
	if _, err := authority.NormalizeIdentity(c.Administrator); err != nil {
		return fmt.Errorf("administrator: %w", err)
	}
	if c.OperationTimeout.Duration <= 0 {
		return fmt.Errorf("operation timeout must be positive")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendLevelDB:
	case BackendSQL:
		if strings.TrimSpace(c.Storage.SQLDSN) == "" {
			return fmt.Errorf("storage: SQLDSN required for sql backend")
		}
		switch c.Storage.SQLDriver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("storage: unsupported SQLDriver %q", c.Storage.SQLDriver)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if err := c.Rewards.Policy().Validate(); err != nil {
		return err
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretBytes {
		return fmt.Errorf("auth: JWTSecret shorter than %d bytes", MinJWTSecretBytes)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	return nil
}
