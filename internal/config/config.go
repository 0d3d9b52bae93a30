package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/antenna-proximity/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Preferences PreferencesConfig `yaml:"preferences" mapstructure:"preferences"`
	Proximity   ProximityConfig   `yaml:"proximity" mapstructure:"proximity"`
	Catalog     CatalogConfig     `yaml:"catalog" mapstructure:"catalog"`
	Antennas    AntennasConfig    `yaml:"antennas" mapstructure:"antennas"`
	Contour     ContourConfig     `yaml:"contour" mapstructure:"contour"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig     `yaml:"circuit" mapstructure:"circuit"`
	Session     SessionConfig     `yaml:"session" mapstructure:"session"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// PreferencesConfig holds the initial user preferences for new sessions.
type PreferencesConfig struct {
	MaxDistanceKM int  `yaml:"max_distance_km" mapstructure:"max_distance_km"`
	PreferFewer   bool `yaml:"prefer_fewer" mapstructure:"prefer_fewer"`
	UseContours   bool `yaml:"use_contours" mapstructure:"use_contours"`
}

// Preferences converts the configured values into model preferences.
func (p PreferencesConfig) Preferences() model.Preferences {
	return model.Preferences{
		MaxDistance: float64(p.MaxDistanceKM) * 1000,
		PreferFewer: p.PreferFewer,
		UseContours: p.UseContours,
	}
}

// ProximityConfig tunes the near/far classification pipeline.
type ProximityConfig struct {
	ValidityRadiusM  float64  `yaml:"validity_radius_m" mapstructure:"validity_radius_m"`
	RetryDelayMs     int      `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	RepublishDelayMs int      `yaml:"republish_delay_ms" mapstructure:"republish_delay_ms"`
	IdleTimeoutSecs  int      `yaml:"idle_timeout_secs" mapstructure:"idle_timeout_secs"`
	ContourCountries []string `yaml:"contour_countries" mapstructure:"contour_countries"`
}

// RetryDelay returns the NotReady retry delay.
func (p ProximityConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMs) * time.Millisecond
}

// RepublishDelay returns the debounce window for worker-triggered re-publishes.
func (p ProximityConfig) RepublishDelay() time.Duration {
	return time.Duration(p.RepublishDelayMs) * time.Millisecond
}

// IdleTimeout returns how long the classification worker waits for work before exiting.
func (p ProximityConfig) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutSecs) * time.Second
}

// CatalogConfig configures the in-memory antenna catalog.
type CatalogConfig struct {
	SiteRadiusM float64 `yaml:"site_radius_m" mapstructure:"site_radius_m"`
}

// AntennasConfig names the antenna list imported into the store.
type AntennasConfig struct {
	Source  string `yaml:"source" mapstructure:"source"`
	Country string `yaml:"country" mapstructure:"country"`
	Sheet   string `yaml:"sheet" mapstructure:"sheet"`
}

// FetchConfig configures dataset downloads.
type FetchConfig struct {
	UserAgent       string `yaml:"user_agent" mapstructure:"user_agent"`
	HTTPTimeoutSecs int    `yaml:"http_timeout_secs" mapstructure:"http_timeout_secs"`
	FTPTimeoutSecs  int    `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
}

// ContourConfig configures contour loading.
type ContourConfig struct {
	Source  string `yaml:"source" mapstructure:"source"`
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// RetryConfig configures retries of dataset loads.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the contour store circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// SessionConfig bounds the HTTP sessions, each of which owns a resolver.
type SessionConfig struct {
	MaxSessions     int     `yaml:"max_sessions" mapstructure:"max_sessions"`
	PositionRate    float64 `yaml:"position_rate" mapstructure:"position_rate"`
	PositionBurst   int     `yaml:"position_burst" mapstructure:"position_burst"`
	IdleTimeoutMins int     `yaml:"idle_timeout_mins" mapstructure:"idle_timeout_mins"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	CheckIntervalSecs int `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ANTENNAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "antennas.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("preferences.max_distance_km", model.DefaultMaxDistanceKM)
	v.SetDefault("preferences.prefer_fewer", model.DefaultPreferFewer)
	v.SetDefault("preferences.use_contours", model.DefaultUseContours)
	v.SetDefault("proximity.validity_radius_m", 200)
	v.SetDefault("proximity.retry_delay_ms", 100)
	v.SetDefault("proximity.republish_delay_ms", 2000)
	v.SetDefault("proximity.idle_timeout_secs", 15)
	v.SetDefault("proximity.contour_countries", []string{string(model.CountryUS)})
	v.SetDefault("catalog.site_radius_m", 300)
	v.SetDefault("contour.temp_dir", "/tmp/antennas")
	v.SetDefault("fetch.user_agent", "antennas/1.0")
	v.SetDefault("fetch.http_timeout_secs", 300)
	v.SetDefault("fetch.ftp_timeout_secs", 30)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("session.max_sessions", 100)
	v.SetDefault("session.position_rate", 5)
	v.SetDefault("session.position_burst", 10)
	v.SetDefault("session.idle_timeout_mins", 30)
	v.SetDefault("monitoring.check_interval_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the values the proximity pipeline depends on.
func (c *Config) Validate() error {
	var problems []string
	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for postgres")
	}
	if c.Preferences.MaxDistanceKM <= 0 {
		problems = append(problems, "preferences.max_distance_km must be positive")
	}
	if c.Proximity.ValidityRadiusM <= 0 {
		problems = append(problems, "proximity.validity_radius_m must be positive")
	}
	if c.Proximity.RetryDelayMs <= 0 || c.Proximity.RepublishDelayMs <= 0 || c.Proximity.IdleTimeoutSecs <= 0 {
		problems = append(problems, "proximity delays must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
