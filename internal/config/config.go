package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorePebble   = "pebble"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Env            string
	Port           int
	AllowedOrigins []string
	StaticDir      string

	// Durable store
	StoreDriver string
	DataPath    string
	DatabaseURL string

	// Session tokens
	JWTPrivatePEM string
	SessionTTL    time.Duration

	MaxEventBytes int64
	TimeZone      string

	LogLevel  string
	LogFormat string

	DemoSeed bool
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func Load() Config {
	port, _ := strconv.Atoi(getenv("APP_PORT", "8080"))
	cors := getenv("CORS_ALLOWED_ORIGINS", "http://localhost:8080")
	ttl, err := time.ParseDuration(getenv("SESSION_TTL", "72h"))
	if err != nil {
		ttl = 72 * time.Hour
	}
	maxEvent, err := strconv.ParseInt(getenv("MAX_EVENT_BYTES", "8388608"), 10, 64)
	if err != nil || maxEvent <= 0 {
		maxEvent = 8 << 20
	}
	env := getenv("APP_ENV", "dev")
	format := "json"
	if env == "dev" {
		format = "console"
	}

	return Config{
		Env:            env,
		Port:           port,
		AllowedOrigins: strings.Split(cors, ","),
		StaticDir:      getenv("STATIC_DIR", "./web"),
		StoreDriver:    strings.ToLower(getenv("STORE_DRIVER", StorePebble)),
		DataPath:       getenv("DATA_PATH", "./data"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTPrivatePEM:  os.Getenv("JWT_PRIVATE_PEM"),
		SessionTTL:     ttl,
		MaxEventBytes:  maxEvent,
		TimeZone:       getenv("TZ", "Local"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogFormat:      getenv("LOG_FORMAT", format),
		DemoSeed:       os.Getenv("DEMO_SEED") == "1",
	}
}

// Validate reports configuration that cannot be started with.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.StoreDriver {
	case StorePebble:
		if c.DataPath == "" {
			return fmt.Errorf("store %q requires a data path", c.StoreDriver)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("store %q requires DATABASE_URL", c.StoreDriver)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	return nil
}

// CORSOrigins returns the trimmed, non-empty allowed origins. When none are
// configured it falls back to the UI served on localhost at Port.
func (c Config) CORSOrigins() []string {
	out := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = append(out, fmt.Sprintf("http://localhost:%d", c.Port))
	}
	return out
}

// Location resolves TimeZone for display timestamps, falling back to local time.
func (c Config) Location() *time.Location {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}
