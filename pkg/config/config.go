package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
)

type Config struct {
	Port               string
	DatabaseURL        string
	AppEnv             string
	BaseURL            string
	SignupURL          string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	JWTSecret          string
	FrontendURL        string
	AllowedEmails      []string

	LogLevel string
	LogFile  string

	StatsTimezone  string
	StatsQueueSize int

	ClickRatePerMinute float64
	ClickRateBurst     int
	// TrustedProxies are CIDRs or bare IPs whose forwarding headers are honoured
	TrustedProxies []string

	PolicyFile string
}

func Load() *Config {
	_ = godotenv.Load() // Ignore error if .env not found (e.g. prod)

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        getEnv("DATABASE_URL", "file:referrals.sqlite"),
		AppEnv:             getEnv("APP_ENV", "local"),
		BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
		SignupURL:          getEnv("SIGNUP_URL", "http://localhost:8080/signup"),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/auth/google/callback"),
		JWTSecret:          getEnv("JWT_SECRET", "secret"),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:8080/dashboard"),
		AllowedEmails:      getEnvList("ALLOWED_EMAILS"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFile:            getEnv("LOG_FILE", ""),
		StatsTimezone:      getEnv("STATS_TIMEZONE", ""),
		StatsQueueSize:     getEnvInt("STATS_QUEUE_SIZE", 256),
		ClickRatePerMinute: getEnvFloat("CLICK_RATE_PER_MINUTE", 30),
		ClickRateBurst:     getEnvInt("CLICK_RATE_BURST", 10),
		TrustedProxies:     getEnvList("TRUSTED_PROXIES"),
		PolicyFile:         getEnv("REFERRAL_POLICY_FILE", ""),
	}
}

// IsProduction reports whether APP_ENV selects production behaviour
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Location resolves STATS_TIMEZONE. Empty means the server's local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.StatsTimezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.StatsTimezone)
	if err != nil {
		return nil, fmt.Errorf("STATS_TIMEZONE: %w", err)
	}
	return loc, nil
}

// TrustedProxyNets parses TRUSTED_PROXIES. A bare address is a single-host network.
func (c *Config) TrustedProxyNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: invalid address %q", entry)
			}
			bits := 8 * net.IPv6len
			if v4 := ip.To4(); v4 != nil {
				ip, bits = v4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// Policy returns the default reward policy overlaid with REFERRAL_POLICY_FILE, if set
func (c *Config) Policy() (domain.RewardPolicy, error) {
	if c.PolicyFile == "" {
		return domain.DefaultPolicy(), nil
	}
	return LoadPolicy(c.PolicyFile)
}

// LoadPolicy reads a YAML policy file. Keys missing from the file keep their default.
func LoadPolicy(path string) (domain.RewardPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RewardPolicy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (domain.RewardPolicy, error) {
	policy := domain.DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return domain.RewardPolicy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return domain.RewardPolicy{}, err
	}
	return policy, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
