// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Throttle      ThrottleConfig      `yaml:"throttle"`
	Cache         CacheConfig         `yaml:"cache"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes bearer-token verification settings. Tokens are
// HS256-signed with a shared secret read from the named environment variable.
type IdentityConfig struct {
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
	SecretEnv string `yaml:"secret_env"`
}

// WorkflowConfig describes the approval workflow engine settings.
type WorkflowConfig struct {
	Store               WorkflowStoreConfig `yaml:"store"`
	Chain               []StageConfig       `yaml:"chain"`
	ExpirySweepInterval time.Duration       `yaml:"expiry_sweep_interval"`
}

// WorkflowStoreConfig describes workflow persistence settings.
type WorkflowStoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// StageConfig describes one stage of the approval chain assigned at
// workflow creation time.
type StageConfig struct {
	Stage     string        `yaml:"stage"`
	Role      string        `yaml:"role"`
	Required  bool          `yaml:"required"`
	DueOffset time.Duration `yaml:"due_offset"`
}

// ThrottleConfig describes per-endpoint fixed-window request limits.
type ThrottleConfig struct {
	Enabled   bool                     `yaml:"enabled"`
	Endpoints map[string]EndpointLimit `yaml:"endpoints"`
	Default   EndpointLimit            `yaml:"default"`
}

// EndpointLimit is a fixed-window limit for one endpoint.
type EndpointLimit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// CacheConfig describes the response cache and throttle counter backend.
type CacheConfig struct {
	Driver      string        `yaml:"driver"`
	AddrEnv     string        `yaml:"addr_env"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	DefaultTTL  time.Duration `yaml:"default_ttl"`
}

// EventsConfig describes the lifecycle event bus.
type EventsConfig struct {
	Driver        string `yaml:"driver"`
	URLEnv        string `yaml:"url_env"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values. The throttle
// limits and approval chain mirror the original production deployment.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			SecretEnv: "QCFLOW_JWT_SECRET",
		},
		Workflow: WorkflowConfig{
			Store: WorkflowStoreConfig{
				Driver:          "memory",
				DSNEnv:          "QCFLOW_WORKFLOW_DSN",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Chain: []StageConfig{
				{Stage: "qc_review", Role: "QC Supervisor", Required: true, DueOffset: 24 * time.Hour},
				{Stage: "manager_approval", Role: "QC Manager", Required: true, DueOffset: 48 * time.Hour},
				{Stage: "final_approval", Role: "Department Head", Required: false, DueOffset: 72 * time.Hour},
			},
			ExpirySweepInterval: 60 * time.Second,
		},
		Throttle: ThrottleConfig{
			Enabled: true,
			Endpoints: map[string]EndpointLimit{
				"/refine":       {MaxRequests: 10, Window: time.Minute},
				"/edit":         {MaxRequests: 15, Window: time.Minute},
				"/digitize":     {MaxRequests: 5, Window: time.Minute},
				"/upload/async": {MaxRequests: 20, Window: time.Minute},
				"/generate":     {MaxRequests: 10, Window: time.Minute},
			},
			Default: EndpointLimit{MaxRequests: 100, Window: time.Minute},
		},
		Cache: CacheConfig{
			Driver:      "memory",
			AddrEnv:     "QCFLOW_REDIS_ADDR",
			PasswordEnv: "QCFLOW_REDIS_PASSWORD",
			KeyPrefix:   "swiftcheck:llm:",
			DefaultTTL:  24 * time.Hour,
		},
		Events: EventsConfig{
			Driver:        "log",
			URLEnv:        "QCFLOW_NATS_URL",
			SubjectPrefix: "swiftcheck",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefaults behaves like Load but falls back to defaults (still with
// environment overrides applied) when the file does not exist.
func LoadOrDefaults(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Defaults()
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config: validation: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if len(c.Workflow.Chain) == 0 {
		errs = append(errs, "workflow.chain must have at least one stage")
	}
	required := false
	for i, s := range c.Workflow.Chain {
		if s.Stage == "" {
			errs = append(errs, fmt.Sprintf("workflow.chain[%d].stage is required", i))
		}
		if s.Role == "" {
			errs = append(errs, fmt.Sprintf("workflow.chain[%d].role is required", i))
		}
		if s.Required {
			required = true
		}
	}
	if len(c.Workflow.Chain) > 0 && !required {
		errs = append(errs, "workflow.chain must contain at least one required stage")
	}
	if c.Throttle.Default.MaxRequests <= 0 {
		errs = append(errs, "throttle.default.max_requests must be positive")
	}
	if c.Throttle.Default.Window <= 0 {
		errs = append(errs, "throttle.default.window must be positive")
	}
	for ep, limit := range c.Throttle.Endpoints {
		if limit.MaxRequests <= 0 || limit.Window <= 0 {
			errs = append(errs, fmt.Sprintf("throttle.endpoints[%s] limits must be positive", ep))
		}
	}
	if c.Cache.DefaultTTL <= 0 {
		errs = append(errs, "cache.default_ttl must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads QCFLOW_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QCFLOW_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("QCFLOW_WORKFLOW_STORE_DRIVER"); v != "" {
		cfg.Workflow.Store.Driver = v
	}
	if v := os.Getenv("QCFLOW_CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}
	if v := os.Getenv("QCFLOW_EVENTS_DRIVER"); v != "" {
		cfg.Events.Driver = v
	}
	if v := os.Getenv("QCFLOW_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}

// LimitFor returns the throttle limit for the given endpoint key, falling
// back to the default for unlisted endpoints.
func (t ThrottleConfig) LimitFor(endpoint string) EndpointLimit {
	if limit, ok := t.Endpoints[endpoint]; ok {
		return limit
	}
	return t.Default
}
