// Package config aggregates runtime settings for the Encore backend.
package config

import (
	"fmt"
	"strings"
)

const (
	defaultListenAddr    = ":8000"
	defaultDatabaseURL   = "sqlite:///tmp/encore.db"
	defaultFrontendURL   = "http://localhost:4321"
	defaultAllowedOrigin = "http://localhost:4321"
	defaultJWTIssuer     = "encore"
	defaultEnvironment   = "development"

	// EnvironmentProduction gates the unsafe verification escape hatch.
	EnvironmentProduction = "production"
)

// Config aggregates runtime settings for the backend process.
type Config struct {
	ListenAddr      string
	Environment     string
	DatabaseURL     string
	FrontendBaseURL string
	AllowedOrigins  []string

	JWTSigningKey string
	JWTIssuer     string

	GCSBucket string

	GMOLinkBaseURL        string
	GMOShopID             string
	GMOShopPass           string
	GMOConfigID           string
	GMOResultHashKey      string
	GMOStrictVerification bool
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.Environment = defaultIfEmpty(cfg.Environment, defaultEnvironment)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.FrontendBaseURL = defaultIfEmpty(cfg.FrontendBaseURL, defaultFrontendURL)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)

	if len(cfg.JWTSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if strings.TrimSpace(cfg.GMOLinkBaseURL) == "" {
		return fmt.Errorf("gmo link base url is required")
	}
	if strings.TrimSpace(cfg.GMOShopID) == "" {
		return fmt.Errorf("gmo shop id is required")
	}
	if strings.TrimSpace(cfg.GMOShopPass) == "" {
		return fmt.Errorf("gmo shop pass is required")
	}
	if strings.TrimSpace(cfg.GMOConfigID) == "" {
		return fmt.Errorf("gmo config id is required")
	}
	if cfg.Environment == EnvironmentProduction && !cfg.GMOStrictVerification {
		return fmt.Errorf("strict notification verification must be enabled in production")
	}
	if cfg.GMOStrictVerification && strings.TrimSpace(cfg.GMOResultHashKey) == "" {
		return fmt.Errorf("gmo result hash key is required when strict verification is enabled")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
