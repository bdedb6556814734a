package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	LogDir       string
	Debug        bool
	JWTSecret    string
	SessionTTL   time.Duration
	// CheckoutURL is the base under which checkout session links are issued.
	CheckoutURL string
	// AlertURLs are shoutrrr service URLs notified about high-risk security events.
	AlertURLs []string
	Security  SecurityConfig
}

// SecurityConfig holds the timings and limits shared by the guard library and
// the backend that serves it.
type SecurityConfig struct {
	BackendURL        string
	CSRFTokenTTL      time.Duration
	CSRFRefresh       time.Duration
	SessionCheck      time.Duration
	SessionWarnBefore time.Duration
	AuditInterval     time.Duration
	GateTimeout       time.Duration
	PayoutThrottle    time.Duration
	EventBufferSize   int
	// MaxPaymentAmount is the ceiling in minor units that the backend will
	// authorize for a single checkout.
	MaxPaymentAmount int64
}

// DefaultSecurityConfig returns the guard timings used when nothing is configured.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		BackendURL:        "http://localhost:8080",
		CSRFTokenTTL:      30 * time.Minute,
		CSRFRefresh:       25 * time.Minute,
		SessionCheck:      60 * time.Second,
		SessionWarnBefore: 5 * time.Minute,
		AuditInterval:     30 * time.Minute,
		GateTimeout:       8 * time.Second,
		PayoutThrottle:    5 * time.Second,
		EventBufferSize:   10,
		MaxPaymentAmount:  5_000_000,
	}
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	def := DefaultSecurityConfig()
	cfg := Config{
		Environment:  getEnv("GEARSHARE_ENV", "development"),
		HTTPPort:     getEnv("GEARSHARE_HTTP_PORT", "8080"),
		DatabasePath: getEnv("GEARSHARE_DB_PATH", filepath.Join("data", "gearshare.db")),
		LogDir:       getEnv("GEARSHARE_LOG_DIR", filepath.Join("data", "logs")),
		Debug:        getEnv("GEARSHARE_DEBUG", "false") == "true",
		JWTSecret:    getEnv("GEARSHARE_JWT_SECRET", ""),
		AlertURLs:    splitList(getEnv("GEARSHARE_ALERT_URLS", "")),
		CheckoutURL:  getEnv("GEARSHARE_CHECKOUT_URL", "https://checkout.stripe.com/c/pay"),
	}

	var err error
	if cfg.SessionTTL, err = getDuration("GEARSHARE_SESSION_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}

	sec := SecurityConfig{BackendURL: getEnv("GEARSHARE_BACKEND_URL", def.BackendURL)}
	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"GEARSHARE_CSRF_TTL", &sec.CSRFTokenTTL, def.CSRFTokenTTL},
		{"GEARSHARE_CSRF_REFRESH", &sec.CSRFRefresh, def.CSRFRefresh},
		{"GEARSHARE_SESSION_CHECK", &sec.SessionCheck, def.SessionCheck},
		{"GEARSHARE_SESSION_WARN", &sec.SessionWarnBefore, def.SessionWarnBefore},
		{"GEARSHARE_AUDIT_INTERVAL", &sec.AuditInterval, def.AuditInterval},
		{"GEARSHARE_GATE_TIMEOUT", &sec.GateTimeout, def.GateTimeout},
		{"GEARSHARE_PAYOUT_THROTTLE", &sec.PayoutThrottle, def.PayoutThrottle},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.fallback); err != nil {
			return Config{}, err
		}
	}
	if sec.EventBufferSize, err = getInt("GEARSHARE_EVENT_BUFFER", def.EventBufferSize); err != nil {
		return Config{}, err
	}
	maxAmount, err := getInt("GEARSHARE_MAX_PAYMENT", int(def.MaxPaymentAmount))
	if err != nil {
		return Config{}, err
	}
	sec.MaxPaymentAmount = int64(maxAmount)
	if sec.CSRFRefresh >= sec.CSRFTokenTTL {
		return Config{}, fmt.Errorf("csrf refresh %s must be shorter than token ttl %s", sec.CSRFRefresh, sec.CSRFTokenTTL)
	}
	cfg.Security = sec

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
