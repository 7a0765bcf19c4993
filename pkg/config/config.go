package config

import "time"

// Config is the coordinator's full runtime configuration, loaded via
// Load from config.yaml plus environment overrides. Only the sections
// this system actually wires are kept; the teacher's broader surface
// (GRPC, OCPP, payments, notifications, feature flags, ...) belonged
// to subsystems this module doesn't implement.
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	Database       DatabaseConfig       `mapstructure:"database"`
	MQTT           MQTTConfig           `mapstructure:"mqtt"`
	Topology       TopologyConfig       `mapstructure:"topology"`
	Coordinator    CoordinatorConfig    `mapstructure:"coordinator"`
	Prometheus     PrometheusConfig     `mapstructure:"prometheus"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	CORS           CORSConfig           `mapstructure:"cors"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// MQTTConfig configures the C6 message fabric adapter.
type MQTTConfig struct {
	BrokerURL string `mapstructure:"broker_url"`
	ClientID  string `mapstructure:"client_id"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	QoS       int    `mapstructure:"qos"`
}

// TopologyConfig points at the boot-time site topology file (spec §6).
type TopologyConfig struct {
	FilePath string `mapstructure:"file_path"`
}

// CoordinatorConfig exposes the coordinator's tunable hysteresis and
// sampling constants (spec §4.1/§4.2/§4.5) for per-site adjustment.
type CoordinatorConfig struct {
	SiteID                       string  `mapstructure:"site_id"`
	ReallocationHysteresisKW     float64 `mapstructure:"reallocation_hysteresis_kw"`
	BESSHysteresisKW             float64 `mapstructure:"bess_hysteresis_kw"`
	MetricsSampleEvery           int     `mapstructure:"metrics_sample_every"`
	BESSMinChargePowerKW         float64 `mapstructure:"bess_min_charge_power_kw"`
	BESSChargeOpportunityUtilization float64 `mapstructure:"bess_charge_opportunity_utilization"`
	InitialBatterySOC            float64 `mapstructure:"initial_battery_soc"`
}

type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      int           `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
}

type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	ExposeHeaders  []string `mapstructure:"expose_headers"`
	MaxAge         int      `mapstructure:"max_age"`
	Credentials    bool     `mapstructure:"credentials"`
}
