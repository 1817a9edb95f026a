package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load
const EnvPrefix = "KEYFORGE"

// Store backends understood by the store package
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// MinKeyLength is the shortest key body the validator accepts
const MinKeyLength = 16

// Config represents the complete service configuration.
// It is built once at process start and passed explicitly to the components
// that need it; nothing reads configuration from globals afterwards.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Limits    LimitsConfig    `yaml:"limits" envconfig:"LIMITS"`
	Keys      KeysConfig      `yaml:"keys" envconfig:"KEYS"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Cleanup   CleanupConfig   `yaml:"cleanup" envconfig:"CLEANUP"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`

	// TrustedProxies lists the peers (IPs or CIDRs) whose forwarding
	// headers are honoured. Empty means every caller is keyed on RemoteAddr.
	TrustedProxies []string `yaml:"trusted_proxies" envconfig:"TRUSTED_PROXIES"`
}

// SecurityConfig contains the admin secret and transport-level protections
type SecurityConfig struct {
	AdminKey       string          `yaml:"admin_key" envconfig:"ADMIN_KEY"`
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig configures the server-wide token bucket
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LimitsConfig holds the per-route sliding window caps
type LimitsConfig struct {
	Window   time.Duration `yaml:"window" envconfig:"WINDOW"`
	Verify   int           `yaml:"verify" envconfig:"VERIFY"`
	Issue    int           `yaml:"issue" envconfig:"ISSUE"`
	Register int           `yaml:"register" envconfig:"REGISTER"`
	Clean    int           `yaml:"clean" envconfig:"CLEAN"`
}

// KeysConfig controls key generation and expiry
type KeysConfig struct {
	Length int           `yaml:"length" envconfig:"LENGTH"`
	TTL    time.Duration `yaml:"ttl" envconfig:"TTL"`
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Backend    string        `yaml:"backend" envconfig:"BACKEND"`
	URL        string        `yaml:"url" envconfig:"URL"`
	APIKey     string        `yaml:"api_key" envconfig:"API_KEY"`
	DSN        string        `yaml:"dsn" envconfig:"DSN"`
	SQLitePath string        `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// CleanupConfig configures the optional background expiry sweep
type CleanupConfig struct {
	Enabled  bool   `yaml:"enabled" envconfig:"ENABLED"`
	Schedule string `yaml:"schedule" envconfig:"SCHEDULE"`
	Days     int    `yaml:"days" envconfig:"DAYS"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	ServiceName   string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment   string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableMetrics bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	TraceExporter string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. An empty path searches the
// usual locations and skips the file layer when none exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Fields carry no default tags so unset variables leave file values alone
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Store.URL = strings.TrimRight(c.Store.URL, "/")
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Output = strings.ToLower(c.Logging.Output)
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	if c.Server.RequestTimeout >= c.Server.WriteTimeout {
		return fmt.Errorf("request timeout (%s) must be shorter than the write timeout (%s)",
			c.Server.RequestTimeout, c.Server.WriteTimeout)
	}

	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return err
	}

	if c.Security.AdminKey == "" {
		return fmt.Errorf("admin key must be set (%s_SECURITY_ADMIN_KEY)", EnvPrefix)
	}

	if c.Keys.Length < MinKeyLength {
		return fmt.Errorf("key length must be at least %d, got %d", MinKeyLength, c.Keys.Length)
	}

	if c.Keys.TTL <= 0 {
		return fmt.Errorf("key ttl must be positive")
	}

	if c.Limits.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}

	for name, limit := range map[string]int{
		"verify":   c.Limits.Verify,
		"issue":    c.Limits.Issue,
		"register": c.Limits.Register,
		"clean":    c.Limits.Clean,
	} {
		if limit <= 0 {
			return fmt.Errorf("rate limit for %s must be positive, got %d", name, limit)
		}
	}

	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}

	switch c.Store.Backend {
	case BackendREST:
		if c.Store.URL == "" {
			return fmt.Errorf("store url is required for the %s backend", BackendREST)
		}
		if c.Store.APIKey == "" {
			return fmt.Errorf("store api key is required for the %s backend", BackendREST)
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for the %s backend", BackendPostgres)
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the %s backend", BackendSQLite)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if c.Cleanup.Enabled {
		if c.Cleanup.Schedule == "" {
			return fmt.Errorf("cleanup schedule is required when cleanup is enabled")
		}
		if c.Cleanup.Days < 0 {
			return fmt.Errorf("cleanup days must not be negative")
		}
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}

	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single
// host prefix.
func (s ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"keyforge.yaml",
		"configs/keyforge.yaml",
		"/etc/keyforge/keyforge.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    45 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: false,
				RPS:     100,
				Burst:   50,
			},
		},
		Limits: LimitsConfig{
			Window:   time.Minute,
			Verify:   20,
			Issue:    10,
			Register: 5,
			Clean:    20,
		},
		Keys: KeysConfig{
			Length: MinKeyLength,
			TTL:    24 * time.Hour,
		},
		Store: StoreConfig{
			Backend:    BackendREST,
			SQLitePath: "keyforge.db",
			Timeout:    5 * time.Second,
		},
		Cleanup: CleanupConfig{
			Enabled:  false,
			Schedule: "0 3 * * *",
			Days:     1,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/keyforge.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "keyforge",
			Environment:   "development",
			EnableMetrics: true,
			EnableTracing: false,
			TraceExporter: "none",
			SampleRatio:   1.0,
		},
	}
}
