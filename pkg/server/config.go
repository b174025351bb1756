package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultTTL = 6000 * time.Second

// Config holds the server configuration
type Config struct {
	// Slack app
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	RedirectURL   string `yaml:"redirect_uri"`
	BotToken      string `yaml:"bot_token"`
	SigningSecret string `yaml:"signing_secret"`

	// Storage
	RedisURL    string `yaml:"redis_url"` // empty: in-process store
	DatabaseURL string `yaml:"database_url"`

	// Server
	BaseURL        string   `yaml:"base_url"`
	ListenAddr     string   `yaml:"listen_addr"`
	TLSCertFile    string   `yaml:"tls_cert_file"`
	TLSKeyFile     string   `yaml:"tls_key_file"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	EnforceHTTPS   bool     `yaml:"enforce_https"`
	TrustProxy     bool     `yaml:"trust_proxy"`

	// Pairing TTLs, read from YAML by UnmarshalYAML
	BindingTTL time.Duration `yaml:"-"`
	StateTTL   time.Duration `yaml:"-"`
	PollTTL    time.Duration `yaml:"-"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		DatabaseURL: "sqlite://sessions.db",
		ListenAddr:  ":8000",
		BindingTTL:  defaultTTL,
		StateTTL:    defaultTTL,
		PollTTL:     defaultTTL,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// ttl is a YAML duration given as bare seconds (6000) or a Go duration ("100m").
type ttl time.Duration

func (t *ttl) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	d, err := parseTTL(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*t = ttl(d)
	return nil
}

// UnmarshalYAML decodes the file layer. TTLs go through ttl so the file
// accepts the same forms as the environment.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	if err := value.Decode((*plain)(c)); err != nil {
		return err
	}

	ttls := struct {
		BindingTTL ttl `yaml:"binding_ttl"`
		StateTTL   ttl `yaml:"state_ttl"`
		PollTTL    ttl `yaml:"poll_ttl"`
	}{ttl(c.BindingTTL), ttl(c.StateTTL), ttl(c.PollTTL)}
	if err := value.Decode(&ttls); err != nil {
		return err
	}
	c.BindingTTL = time.Duration(ttls.BindingTTL)
	c.StateTTL = time.Duration(ttls.StateTTL)
	c.PollTTL = time.Duration(ttls.PollTTL)
	return nil
}

// LoadConfig builds the configuration from defaults, then the YAML file at
// path (if path is not empty), then environment variables read via getenv.
func LoadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	env := envReader(getenv)
	cfg.ClientID = env.str("OAUTH_CLIENT_ID", cfg.ClientID)
	cfg.ClientSecret = env.str("OAUTH_CLIENT_SECRET", cfg.ClientSecret)
	cfg.RedirectURL = env.str("OAUTH_REDIRECT_URI", cfg.RedirectURL)
	cfg.BotToken = env.str("SLACK_BOT_TOKEN", cfg.BotToken)
	cfg.SigningSecret = env.str("SLACK_SIGNING_SECRET", cfg.SigningSecret)
	cfg.RedisURL = env.str("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = env.str("DATABASE_URL", cfg.DatabaseURL)
	cfg.BaseURL = strings.TrimRight(env.str("BASE_URL", cfg.BaseURL), "/")
	if port := env.str("PORT", ""); port != "" {
		cfg.ListenAddr = ":" + port
	}
	cfg.ListenAddr = env.str("LISTEN_ADDR", cfg.ListenAddr)
	cfg.TLSCertFile = env.str("TLS_CERT_FILE", cfg.TLSCertFile)
	cfg.TLSKeyFile = env.str("TLS_KEY_FILE", cfg.TLSKeyFile)
	cfg.AllowedOrigins = env.list("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.EnforceHTTPS = env.boolean("ENFORCE_HTTPS", cfg.EnforceHTTPS)
	cfg.TrustProxy = env.boolean("TRUST_PROXY", cfg.TrustProxy)
	cfg.BindingTTL = env.duration("BINDING_TTL", cfg.BindingTTL)
	cfg.StateTTL = env.duration("STATE_TTL", cfg.StateTTL)
	cfg.PollTTL = env.duration("POLL_TTL", cfg.PollTTL)
	cfg.LogLevel = env.str("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = env.str("LOG_FORMAT", cfg.LogFormat)

	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	required := []struct{ name, value string }{
		{"OAUTH_CLIENT_ID", c.ClientID},
		{"OAUTH_CLIENT_SECRET", c.ClientSecret},
		{"OAUTH_REDIRECT_URI", c.RedirectURL},
		{"SLACK_BOT_TOKEN", c.BotToken},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}
	for name, ttl := range map[string]time.Duration{"BINDING_TTL": c.BindingTTL, "STATE_TTL": c.StateTTL, "POLL_TTL": c.PollTTL} {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// TLSEnabled reports whether the server terminates TLS itself.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

type envReader func(string) string

func (e envReader) str(key, defaultValue string) string {
	if value := e(key); value != "" {
		return value
	}
	return defaultValue
}

// duration accepts Go durations ("100m") and bare seconds ("6000").
func (e envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := e(key)
	if value == "" {
		return defaultValue
	}
	duration, err := parseTTL(value)
	if err != nil {
		slog.Warn("config.invalid_value", "key", key, "value", value, "type", "duration")
		return defaultValue
	}
	return duration
}

func parseTTL(value string) (time.Duration, error) {
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: use seconds or a Go duration", value)
	}
	return d, nil
}

func (e envReader) boolean(key string, defaultValue bool) bool {
	value := e(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("config.invalid_value", "key", key, "value", value, "type", "bool")
		return defaultValue
	}
	return boolVal
}

func (e envReader) list(key string, defaultValue []string) []string {
	value := e(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
