// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	HTTPAddr string `yaml:"http_addr"`

	// Platform (tenant API host and credentials for the client-credentials exchange)
	AppDomain    string `yaml:"app_domain"`
	HTTPS        bool   `yaml:"https"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	JWTAudience  string `yaml:"jwt_audience"`
	JWTTokenURL  string `yaml:"jwt_token_url"`

	// Integration identity used when verifying tenant tokens and minting access keys
	IntegrationName string `yaml:"integration_name"`
	AccessKeyIssuer string `yaml:"access_key_issuer"`

	// Cache policies
	KeyRefresh        time.Duration `yaml:"key_refresh"`
	TokenRefresh      time.Duration `yaml:"token_refresh"`
	IntegrationTTL    time.Duration `yaml:"integration_ttl"`
	IntegrationMaxLen int           `yaml:"integration_max_entries"`

	ExecutorWorkers int      `yaml:"executor_workers"`
	FrameSrc        []string `yaml:"frame_src"`

	// Redis (optional webhook replay guard)
	RedisURL string `yaml:"redis_url"`

	// Rego module checked against merged configs before they are written back
	ConfigPolicyFile string `yaml:"config_policy_file"`
}

func defaults() Config {
	return Config{
		Env:               "dev",
		HTTPAddr:          ":8080",
		HTTPS:             true,
		KeyRefresh:        24 * time.Hour,
		TokenRefresh:      6 * time.Hour,
		IntegrationTTL:    time.Minute,
		IntegrationMaxLen: 16,
		ExecutorWorkers:   64,
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// GATEWAY_CONFIG_FILE, and finally environment variables (a .env file is read
// first when present).
func Load() Config {
	_ = godotenv.Load()
	cfg := defaults()
	if path := os.Getenv("GATEWAY_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			log.Printf("[WARN] config file %s ignored: %v", path, err)
		}
	}
	cfg.Env = env("GATEWAY_ENV", cfg.Env)
	cfg.LogLevel = env("LOG_LEVEL", cfg.LogLevel)
	cfg.HTTPAddr = env("GATEWAY_HTTP_ADDR", cfg.HTTPAddr)
	cfg.AppDomain = env("SQUATCH_APP_DOMAIN", cfg.AppDomain)
	cfg.HTTPS = envBool("SQUATCH_HTTPS", cfg.HTTPS)
	cfg.ClientID = env("SQUATCH_CLIENT_ID", cfg.ClientID)
	cfg.ClientSecret = env("SQUATCH_CLIENT_SECRET", cfg.ClientSecret)
	cfg.JWTAudience = env("SQUATCH_JWT_AUDIENCE", cfg.JWTAudience)
	cfg.JWTTokenURL = env("SQUATCH_JWT_TOKEN_URL", cfg.JWTTokenURL)
	cfg.IntegrationName = env("INTEGRATION_NAME", cfg.IntegrationName)
	cfg.AccessKeyIssuer = env("ACCESS_KEY_ISSUER", cfg.AccessKeyIssuer)
	cfg.KeyRefresh = envDur("KEY_REFRESH", cfg.KeyRefresh)
	cfg.TokenRefresh = envDur("TOKEN_REFRESH", cfg.TokenRefresh)
	cfg.IntegrationTTL = envDur("INTEGRATION_TTL", cfg.IntegrationTTL)
	cfg.IntegrationMaxLen = envInt("INTEGRATION_MAX_ENTRIES", cfg.IntegrationMaxLen)
	cfg.ExecutorWorkers = envInt("EXECUTOR_WORKERS", cfg.ExecutorWorkers)
	cfg.FrameSrc = envList("FRAME_SRC", cfg.FrameSrc)
	cfg.RedisURL = env("REDIS_URL", cfg.RedisURL)
	cfg.ConfigPolicyFile = env("CONFIG_POLICY_FILE", cfg.ConfigPolicyFile)
	if cfg.AccessKeyIssuer == "" {
		cfg.AccessKeyIssuer = cfg.IntegrationName
	}
	if cfg.RedisURL == "" {
		log.Println("[WARN] REDIS_URL not set, webhook replay guard disabled")
	}
	return cfg
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// Scheme is the URL scheme used for every platform call.
func (c Config) Scheme() string {
	if c.HTTPS {
		return "https"
	}
	return "http"
}

// Validate reports all missing required settings at once.
func (c Config) Validate() error {
	var errs []error
	required := map[string]string{
		"SQUATCH_APP_DOMAIN":    c.AppDomain,
		"SQUATCH_CLIENT_ID":     c.ClientID,
		"SQUATCH_CLIENT_SECRET": c.ClientSecret,
		"SQUATCH_JWT_AUDIENCE":  c.JWTAudience,
		"SQUATCH_JWT_TOKEN_URL": c.JWTTokenURL,
		"INTEGRATION_NAME":      c.IntegrationName,
	}
	for _, k := range []string{"SQUATCH_APP_DOMAIN", "SQUATCH_CLIENT_ID", "SQUATCH_CLIENT_SECRET", "SQUATCH_JWT_AUDIENCE", "SQUATCH_JWT_TOKEN_URL", "INTEGRATION_NAME"} {
		if strings.TrimSpace(required[k]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", k))
		}
	}
	return errors.Join(errs...)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return i
	}
	return def
}

// envDur accepts Go duration syntax ("90s", "6h") or a bare number of seconds.
func envDur(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return def
}
func envList(k string, def []string) []string {
	v := os.Getenv(k)
	if strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
