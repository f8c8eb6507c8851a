package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// BackendKind selects which calendar backend the server talks to.
type BackendKind string

const (
	BackendInmem  BackendKind = "inmem"
	BackendCalDAV BackendKind = "caldav"
	BackendGoogle BackendKind = "google"
)

type Config struct {
	ListenAddr string
	BaseURL    string

	// UserEmail is the mailbox owner; invitations are reconciled from this
	// address's perspective.
	UserEmail       string
	DefaultTimezone *time.Location

	Backend BackendKind

	CalDAV struct {
		Endpoint string
		Username string
		Password string
	}

	Google struct {
		ClientID     string
		ClientSecret string
		TokenFile    string
	}

	SMTP struct {
		Addr     string
		Username string
		Password string
	}

	PrometheusEnabled bool
	TrustedProxies    []string
}

func Load() (*Config, error) {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.BaseURL = getenvDefault("APP_BASE_URL", "http://localhost:8080")
	cfg.UserEmail = os.Getenv("APP_USER_EMAIL")
	cfg.Backend = BackendKind(getenvDefault("APP_BACKEND", string(BackendInmem)))

	tzName := getenvDefault("APP_DEFAULT_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("APP_DEFAULT_TIMEZONE %q is not a valid IANA zone: %w", tzName, err)
	}
	cfg.DefaultTimezone = loc

	cfg.CalDAV.Endpoint = os.Getenv("APP_CALDAV_ENDPOINT")
	cfg.CalDAV.Username = os.Getenv("APP_CALDAV_USERNAME")
	cfg.CalDAV.Password = os.Getenv("APP_CALDAV_PASSWORD")

	cfg.Google.ClientID = os.Getenv("APP_GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = os.Getenv("APP_GOOGLE_CLIENT_SECRET")
	cfg.Google.TokenFile = getenvDefault("APP_GOOGLE_TOKEN_FILE", "token.json")

	cfg.SMTP.Addr = os.Getenv("APP_SMTP_ADDR")
	cfg.SMTP.Username = os.Getenv("APP_SMTP_USERNAME")
	cfg.SMTP.Password = os.Getenv("APP_SMTP_PASSWORD")

	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	if cfg.UserEmail == "" {
		return nil, errors.New("APP_USER_EMAIL is required")
	}

	switch cfg.Backend {
	case BackendInmem:
	case BackendCalDAV:
		if cfg.CalDAV.Endpoint == "" {
			return nil, errors.New("APP_CALDAV_ENDPOINT is required for the caldav backend")
		}
	case BackendGoogle:
		if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
			return nil, errors.New("APP_GOOGLE_CLIENT_ID and APP_GOOGLE_CLIENT_SECRET are required for the google backend")
		}
	default:
		return nil, fmt.Errorf("unknown APP_BACKEND %q (want inmem, caldav, or google)", cfg.Backend)
	}

	if len(cfg.TrustedProxies) == 0 {
		fmt.Println("WARNING: No APP_TRUSTED_PROXIES configured. Mailvite will trust all proxies - Not recommended for public environments.")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
