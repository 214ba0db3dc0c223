package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var serviceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Environment  string        `mapstructure:"environment"`
	Version      string        `mapstructure:"version"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type HealthCheckConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

type ProxyConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type ConsulConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Address         string        `mapstructure:"address"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type DiscoveryConfig struct {
	Consul ConsulConfig `mapstructure:"consul"`
}

type ServiceConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type RouteConfig struct {
	Prefix        string `mapstructure:"prefix"`
	Service       string `mapstructure:"service"`
	BackendPrefix string `mapstructure:"backend_prefix"`
	DefaultPath   string `mapstructure:"default_path"`
}

// CompositeConfig names the services read by the dashboard and search
// endpoints.
type CompositeConfig struct {
	Users      string `mapstructure:"users"`
	Products   string `mapstructure:"products"`
	Categories string `mapstructure:"categories"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Proxy          ProxyConfig          `mapstructure:"proxy"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Discovery      DiscoveryConfig      `mapstructure:"discovery"`
	Services       []ServiceConfig      `mapstructure:"services"`
	// Routes replaces the built-in route table when non-empty.
	Routes    []RouteConfig   `mapstructure:"routes"`
	Composite CompositeConfig `mapstructure:"composite"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("health_check.interval", "30s")
	v.SetDefault("health_check.timeout", "5s")
	v.SetDefault("health_check.startup_delay", "2s")
	v.SetDefault("circuit_breaker.failure_threshold", 3)
	v.SetDefault("circuit_breaker.cooldown", "30s")
	v.SetDefault("proxy.timeout", "10s")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 100)
	v.SetDefault("rate_limit.burst", 200)
	v.SetDefault("discovery.consul.enabled", false)
	v.SetDefault("discovery.consul.address", "127.0.0.1:8500")
	v.SetDefault("discovery.consul.refresh_interval", "30s")
	v.SetDefault("services", []map[string]any{
		{"name": "user-service", "url": "http://localhost:3001"},
		{"name": "product-service", "url": "http://localhost:3002"},
		{"name": "category-service", "url": "http://localhost:3003"},
	})
	v.SetDefault("composite.users", "user-service")
	v.SetDefault("composite.products", "product-service")
	v.SetDefault("composite.categories", "category-service")
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Logging),
		validation.Field(&c.HealthCheck),
		validation.Field(&c.CircuitBreaker),
		validation.Field(&c.Proxy),
		validation.Field(&c.RateLimit),
		validation.Field(&c.Discovery),
		validation.Field(&c.Services,
			validation.When(!c.Discovery.Consul.Enabled, validation.Required),
		),
		validation.Field(&c.Routes),
		validation.Field(&c.Composite),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Environment, validation.Required, validation.In(EnvDev, EnvStaging, EnvProd)),
		validation.Field(&s.Address, validation.Required, validation.By(validateHostPort)),
		validation.Field(&s.Version, validation.Required),
		validation.Field(&s.ReadTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.WriteTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.IdleTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.Required, validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError)),
	)
}

func (h HealthCheckConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Interval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&h.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&h.StartupDelay, validation.Min(time.Duration(0))),
	)
}

func (b CircuitBreakerConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&b.Cooldown, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (p ProxyConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Timeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequestsPerSecond, validation.When(r.Enabled, validation.Required, validation.Min(0.001))),
		validation.Field(&r.Burst, validation.When(r.Enabled, validation.Required, validation.Min(1))),
	)
}

func (d DiscoveryConfig) Validate() error {
	cc := d.Consul
	return validation.ValidateStruct(&cc,
		validation.Field(&cc.Address, validation.When(cc.Enabled, validation.Required)),
		validation.Field(&cc.RefreshInterval, validation.When(cc.Enabled, validation.Required, validation.Min(time.Second))),
	)
}

func (s ServiceConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required, validation.Match(serviceNamePattern)),
		validation.Field(&s.URL, validation.Required, is.URL, validation.By(validateServiceURL)),
	)
}

func (r RouteConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Prefix, validation.Required, validation.Match(regexp.MustCompile(`^[^/]+$`))),
		validation.Field(&r.Service, validation.Required),
	)
}

func (c CompositeConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Users, validation.Required),
		validation.Field(&c.Products, validation.Required),
		validation.Field(&c.Categories, validation.Required),
	)
}

// ParsedServices returns the configured services with parsed URLs.
func (c *Config) ParsedServices() (map[string]*url.URL, error) {
	out := make(map[string]*url.URL, len(c.Services))
	for _, svc := range c.Services {
		u, err := url.Parse(svc.URL)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.Name, err)
		}
		out[svc.Name] = u
	}
	return out, nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateServiceURL(value interface{}) error {
	serviceURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
