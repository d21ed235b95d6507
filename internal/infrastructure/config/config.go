package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Telemetry    TelemetryConfig
	Scheduler    SchedulerConfig
	Orchestrator OrchestratorConfig
	Vendors      VendorsConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings.
// When disabled, leases fall back to the database and pacing stays process-local.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port of the Redis server
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	TrustedProxies []string

	MaxBodySize        int64 // bytes
	RateLimitEnabled   bool
	RateLimitPerSecond float64 // per client IP
	RateLimitBurst     int
	CORSAllowOrigins   []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool          // Whether to enable OpenTelemetry
	CollectorEndpoint string        // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64       // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string        // Service name for traces
	Insecure          bool          // Use insecure (non-TLS) connection (development only)
	LogsEnabled       bool          // Also export logs over OTLP
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	SlowQueryThresh   time.Duration // Statements slower than this are flagged
}

// SchedulerConfig holds the import job scheduler configuration
type SchedulerConfig struct {
	Enabled         bool
	HighWorkers     int
	NormalWorkers   int
	PeriodicWorkers int
	QueueCapacity   int // per lane
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	DailyHour       int
	DailyMinute     int
	RunOnStart      bool
	HistorySize     int
}

// OrchestratorConfig holds the import orchestrator tuning
type OrchestratorConfig struct {
	ComponentParallelism int
	PageRetryAttempts    int
	PageRetryBaseDelay   time.Duration
	PageRetryMaxDelay    time.Duration
	LeaseTTL             time.Duration
	LeaseAcquireTimeout  time.Duration
	FetchTimeout         time.Duration
	RunBudget            time.Duration
	MaxDeferrals         int
}

// VendorConfig holds connection and pacing settings of one vendor platform
type VendorConfig struct {
	BaseURL           string
	PageSize          int
	RequestsPerSecond float64
	Burst             int
	BackoffBase       time.Duration
	BackoffCeiling    time.Duration
	MaxRateLimitWaits int
}

// VendorsConfig groups the settings of every supported vendor
type VendorsConfig struct {
	Xero     VendorConfig
	Toast    VendorConfig
	NetSuite VendorConfig
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with AFP_ prefix (e.g., AFP_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetDefault("http.rate_limit_enabled", true)

	v.SetEnvPrefix("AFP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),

			MaxBodySize:        v.GetInt64("http.max_body_size"),
			RateLimitEnabled:   v.GetBool("http.rate_limit_enabled"),
			RateLimitPerSecond: v.GetFloat64("http.rate_limit_per_second"),
			RateLimitBurst:     v.GetInt("http.rate_limit_burst"),
			CORSAllowOrigins:   v.GetStringSlice("http.cors_allow_origins"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			SlowQueryThresh:   v.GetDuration("telemetry.slow_query_threshold"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
		},
		Scheduler: SchedulerConfig{
			Enabled:         v.GetBool("scheduler.enabled"),
			HighWorkers:     v.GetInt("scheduler.high_workers"),
			NormalWorkers:   v.GetInt("scheduler.normal_workers"),
			PeriodicWorkers: v.GetInt("scheduler.periodic_workers"),
			QueueCapacity:   v.GetInt("scheduler.queue_capacity"),
			MaxAttempts:     v.GetInt("scheduler.max_attempts"),
			RetryBaseDelay:  v.GetDuration("scheduler.retry_base_delay"),
			RetryMaxDelay:   v.GetDuration("scheduler.retry_max_delay"),
			DailyHour:       v.GetInt("scheduler.daily_hour"),
			DailyMinute:     v.GetInt("scheduler.daily_minute"),
			RunOnStart:      v.GetBool("scheduler.run_on_start"),
			HistorySize:     v.GetInt("scheduler.history_size"),
		},
		Orchestrator: OrchestratorConfig{
			ComponentParallelism: v.GetInt("orchestrator.component_parallelism"),
			PageRetryAttempts:    v.GetInt("orchestrator.page_retry_attempts"),
			PageRetryBaseDelay:   v.GetDuration("orchestrator.page_retry_base_delay"),
			PageRetryMaxDelay:    v.GetDuration("orchestrator.page_retry_max_delay"),
			LeaseTTL:             v.GetDuration("orchestrator.lease_ttl"),
			LeaseAcquireTimeout:  v.GetDuration("orchestrator.lease_acquire_timeout"),
			FetchTimeout:         v.GetDuration("orchestrator.fetch_timeout"),
			RunBudget:            v.GetDuration("orchestrator.run_budget"),
			MaxDeferrals:         v.GetInt("orchestrator.max_deferrals"),
		},
		Vendors: VendorsConfig{
			Xero:     loadVendor(v, "vendors.xero"),
			Toast:    loadVendor(v, "vendors.toast"),
			NetSuite: loadVendor(v, "vendors.netsuite"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadVendor(v *viper.Viper, prefix string) VendorConfig {
	return VendorConfig{
		BaseURL:           v.GetString(prefix + ".base_url"),
		PageSize:          v.GetInt(prefix + ".page_size"),
		RequestsPerSecond: v.GetFloat64(prefix + ".requests_per_second"),
		Burst:             v.GetInt(prefix + ".burst"),
		BackoffBase:       v.GetDuration(prefix + ".backoff_base"),
		BackoffCeiling:    v.GetDuration(prefix + ".backoff_ceiling"),
		MaxRateLimitWaits: v.GetInt(prefix + ".max_rate_limit_waits"),
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "afp-integration"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "afp"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.HTTP.RateLimitPerSecond == 0 {
		cfg.HTTP.RateLimitPerSecond = 10
	}
	if cfg.HTTP.RateLimitBurst == 0 {
		cfg.HTTP.RateLimitBurst = 20
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "afp-integration"
	}
	if cfg.Telemetry.SlowQueryThresh == 0 {
		cfg.Telemetry.SlowQueryThresh = 200 * time.Millisecond
	}

	s := &cfg.Scheduler
	if s.HighWorkers == 0 {
		s.HighWorkers = 1
	}
	if s.NormalWorkers == 0 {
		s.NormalWorkers = 3
	}
	if s.PeriodicWorkers == 0 {
		s.PeriodicWorkers = 1
	}
	if s.QueueCapacity == 0 {
		s.QueueCapacity = 500
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = 3
	}
	if s.RetryBaseDelay == 0 {
		s.RetryBaseDelay = time.Minute
	}
	if s.RetryMaxDelay == 0 {
		s.RetryMaxDelay = 30 * time.Minute
	}
	if s.HistorySize == 0 {
		s.HistorySize = 100
	}

	o := &cfg.Orchestrator
	if o.ComponentParallelism == 0 {
		o.ComponentParallelism = 3
	}
	if o.PageRetryAttempts == 0 {
		o.PageRetryAttempts = 3
	}
	if o.PageRetryBaseDelay == 0 {
		o.PageRetryBaseDelay = 2 * time.Second
	}
	if o.PageRetryMaxDelay == 0 {
		o.PageRetryMaxDelay = 30 * time.Second
	}
	if o.LeaseAcquireTimeout == 0 {
		o.LeaseAcquireTimeout = 5 * time.Minute
	}
	if o.FetchTimeout == 0 {
		o.FetchTimeout = 60 * time.Second
	}
	if o.RunBudget == 0 {
		o.RunBudget = 2 * time.Hour
	}
	if o.LeaseTTL == 0 {
		o.LeaseTTL = o.RunBudget
	}
	if o.MaxDeferrals == 0 {
		o.MaxDeferrals = 5
	}

	applyVendorDefaults(&cfg.Vendors.Xero, "https://api.xero.com", 100, 1)
	applyVendorDefaults(&cfg.Vendors.Toast, "https://ws-api.toasttab.com", 100, 5)
	applyVendorDefaults(&cfg.Vendors.NetSuite, "", 1000, 5)
}

func applyVendorDefaults(vc *VendorConfig, baseURL string, pageSize int, rps float64) {
	if vc.BaseURL == "" {
		vc.BaseURL = baseURL
	}
	if vc.PageSize == 0 {
		vc.PageSize = pageSize
	}
	if vc.RequestsPerSecond == 0 {
		vc.RequestsPerSecond = rps
	}
	if vc.Burst == 0 {
		vc.Burst = 1
	}
	if vc.BackoffBase == 0 {
		vc.BackoffBase = time.Second
	}
	if vc.BackoffCeiling == 0 {
		vc.BackoffCeiling = time.Minute
	}
	if vc.MaxRateLimitWaits == 0 {
		vc.MaxRateLimitWaits = 6
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
	}

	if c.HTTP.MaxBodySize < 0 {
		return fmt.Errorf("http.max_body_size cannot be negative")
	}
	if c.HTTP.RateLimitEnabled && (c.HTTP.RateLimitPerSecond < 0 || c.HTTP.RateLimitBurst < 0) {
		return fmt.Errorf("http rate limit settings cannot be negative")
	}
	if c.App.Env == "production" {
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("http.cors_allow_origins cannot contain '*' in production")
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.Scheduler.HighWorkers < 0 || c.Scheduler.NormalWorkers < 0 || c.Scheduler.PeriodicWorkers < 0 {
		return fmt.Errorf("scheduler worker counts cannot be negative")
	}
	if c.Scheduler.DailyHour < 0 || c.Scheduler.DailyHour > 23 {
		return fmt.Errorf("scheduler.daily_hour must be between 0 and 23, got %d", c.Scheduler.DailyHour)
	}
	if c.Scheduler.DailyMinute < 0 || c.Scheduler.DailyMinute > 59 {
		return fmt.Errorf("scheduler.daily_minute must be between 0 and 59, got %d", c.Scheduler.DailyMinute)
	}
	if c.Orchestrator.ComponentParallelism < 1 {
		return fmt.Errorf("orchestrator.component_parallelism must be positive")
	}
	if c.Orchestrator.RunBudget < c.Orchestrator.FetchTimeout {
		return fmt.Errorf("orchestrator.run_budget (%s) cannot be shorter than orchestrator.fetch_timeout (%s)",
			c.Orchestrator.RunBudget, c.Orchestrator.FetchTimeout)
	}
	if c.Orchestrator.LeaseTTL < c.Orchestrator.RunBudget {
		return fmt.Errorf("orchestrator.lease_ttl (%s) cannot be shorter than orchestrator.run_budget (%s)",
			c.Orchestrator.LeaseTTL, c.Orchestrator.RunBudget)
	}
	if c.Vendors.NetSuite.BaseURL != "" {
		if _, err := url.Parse(c.Vendors.NetSuite.BaseURL); err != nil {
			return fmt.Errorf("vendors.netsuite.base_url is invalid: %w", err)
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
