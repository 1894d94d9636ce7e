// Package config loads the server configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Port   int
	DBPath string

	// AppURL is where the browser app lives; OAuth callbacks redirect there.
	AppURL string
	// APIURL is this server's public base URL, used to build OAuth redirect URIs.
	APIURL string

	JWTSecret string

	// JWKSURL enables bearer tokens from the external auth provider.
	JWKSURL      string
	JWKSIssuer   string
	JWKSAudience string

	// InternalSyncSecret guards the service-to-service sync route. Empty
	// disables the route.
	InternalSyncSecret string

	GoogleClientID     string
	GoogleClientSecret string

	OutlookClientID     string
	OutlookClientSecret string
	OutlookTenant       string

	// NATSURL enables activity events. Empty disables them.
	NATSURL string

	// SyncInterval is the background sync period. Zero disables it.
	SyncInterval time.Duration

	LogLevel slog.Level
}

// Load reads the environment. It fails only on values that are present but
// malformed; see Validate for required settings.
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("config: invalid PORT %q", os.Getenv("PORT"))
	}

	interval, err := time.ParseDuration(getEnv("SYNC_INTERVAL", "0"))
	if err != nil || interval < 0 {
		return nil, fmt.Errorf("config: invalid SYNC_INTERVAL %q", os.Getenv("SYNC_INTERVAL"))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("config: invalid LOG_LEVEL %q", os.Getenv("LOG_LEVEL"))
	}

	appURL := strings.TrimRight(getEnv("APP_URL", fmt.Sprintf("http://localhost:%d", port)), "/")

	return &Config{
		Port:                port,
		DBPath:              getEnv("DB_PATH", "data/revtrack.db"),
		AppURL:              appURL,
		APIURL:              strings.TrimRight(getEnv("API_URL", appURL), "/"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		JWKSURL:             getEnv("AUTH_JWKS_URL", ""),
		JWKSIssuer:          getEnv("AUTH_JWKS_ISSUER", ""),
		JWKSAudience:        getEnv("AUTH_JWKS_AUDIENCE", ""),
		InternalSyncSecret:  getEnv("INTERNAL_SYNC_SECRET", ""),
		GoogleClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		OutlookClientID:     getEnv("OUTLOOK_CLIENT_ID", ""),
		OutlookClientSecret: getEnv("OUTLOOK_CLIENT_SECRET", ""),
		OutlookTenant:       getEnv("OUTLOOK_TENANT", "common"),
		NATSURL:             getEnv("NATS_URL", ""),
		SyncInterval:        interval,
		LogLevel:            level,
	}, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH must not be empty"))
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together"))
	}
	if (c.OutlookClientID == "") != (c.OutlookClientSecret == "") {
		errs = append(errs, errors.New("OUTLOOK_CLIENT_ID and OUTLOOK_CLIENT_SECRET must be set together"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// GmailEnabled reports whether Gmail client credentials are configured.
func (c *Config) GmailEnabled() bool { return c.GoogleClientID != "" }

// OutlookEnabled reports whether Outlook client credentials are configured.
func (c *Config) OutlookEnabled() bool { return c.OutlookClientID != "" }

// CallbackURL is the OAuth redirect URI registered for provider.
func (c *Config) CallbackURL(provider string) string {
	return fmt.Sprintf("%s/api/mail/%s/callback", c.APIURL, provider)
}

// SecureCookies is true when the API is served over HTTPS.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.APIURL, "https://")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
