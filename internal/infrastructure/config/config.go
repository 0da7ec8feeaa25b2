package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for amcrest2mqtt.
// Configuration is loaded from an optional YAML file and then overridden by
// environment variables, which is how the bridge is normally deployed.
type Config struct {
	Amcrest       AmcrestConfig       `yaml:"amcrest"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Datadog       DatadogConfig       `yaml:"datadog"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AmcrestConfig contains camera connection and polling settings.
type AmcrestConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// DeviceName overrides the machine name reported by the camera.
	DeviceName string `yaml:"device_name"`

	// StoragePollInterval is in seconds; 0 disables storage sensors.
	StoragePollInterval int `yaml:"storage_poll_interval"`

	// SettingsPollInterval is in seconds; 0 disables the config poll.
	SettingsPollInterval int `yaml:"settings_poll_interval"`

	// DoorbellOffTimeout is in seconds; 0 disables the auto-off debounce.
	DoorbellOffTimeout int `yaml:"doorbell_off_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	QoS          int           `yaml:"qos"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	ClientSuffix string        `yaml:"client_suffix"`
	TLS          MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig contains mutual TLS settings for the broker connection.
type MQTTTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CACert   string `yaml:"ca_cert"`
	CertFile string `yaml:"cert"`
	KeyFile  string `yaml:"key"`
}

// HomeAssistantConfig controls MQTT discovery.
type HomeAssistantConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatadogConfig contains DogStatsD settings.
type DatadogConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment overrides.
//
// An empty path skips the file and uses defaults plus environment only.
// Environment variables use the names the bridge has always been deployed
// with, for example AMCREST_HOST, MQTT_USERNAME and HOME_ASSISTANT_PREFIX.
//
// Parameters:
//   - path: Path to the YAML configuration file, or ""
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the bridge defaults.
func defaultConfig() *Config {
	return &Config{
		Amcrest: AmcrestConfig{
			Port:                 80,
			Username:             "admin",
			StoragePollInterval:  3600,
			SettingsPollInterval: 60,
		},
		MQTT: MQTTConfig{
			Host: "localhost",
			Port: 1883,
			QoS:  0,
		},
		HomeAssistant: HomeAssistantConfig{
			DiscoveryPrefix: "homeassistant",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Datadog: DatadogConfig{
			Address:   "127.0.0.1:8125",
			Namespace: "amcrest2mqtt.",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// lookupFunc matches os.LookupEnv so tests can supply a fixed environment.
type lookupFunc func(key string) (string, bool)

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	var errs []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s must be an integer, got %q", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = IsTruthy(v)
		}
	}

	// Camera
	str("AMCREST_HOST", &cfg.Amcrest.Host)
	num("AMCREST_PORT", &cfg.Amcrest.Port)
	str("AMCREST_USERNAME", &cfg.Amcrest.Username)
	str("AMCREST_PASSWORD", &cfg.Amcrest.Password)
	str("DEVICE_NAME", &cfg.Amcrest.DeviceName)
	num("STORAGE_POLL_INTERVAL", &cfg.Amcrest.StoragePollInterval)
	num("SETTINGS_POLL_INTERVAL", &cfg.Amcrest.SettingsPollInterval)
	num("DOORBELL_OFF_TIMEOUT", &cfg.Amcrest.DoorbellOffTimeout)

	// MQTT
	str("MQTT_HOST", &cfg.MQTT.Host)
	num("MQTT_PORT", &cfg.MQTT.Port)
	num("MQTT_QOS", &cfg.MQTT.QoS)
	str("MQTT_USERNAME", &cfg.MQTT.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.Password)
	str("MQTT_CLIENT_SUFFIX", &cfg.MQTT.ClientSuffix)
	flag("MQTT_TLS_ENABLED", &cfg.MQTT.TLS.Enabled)
	str("MQTT_TLS_CA_CERT", &cfg.MQTT.TLS.CACert)
	str("MQTT_TLS_CERT", &cfg.MQTT.TLS.CertFile)
	str("MQTT_TLS_KEY", &cfg.MQTT.TLS.KeyFile)

	// Home Assistant
	flag("HOME_ASSISTANT", &cfg.HomeAssistant.Enabled)
	str("HOME_ASSISTANT_PREFIX", &cfg.HomeAssistant.DiscoveryPrefix)

	// InfluxDB
	flag("INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	str("INFLUXDB_URL", &cfg.InfluxDB.URL)
	str("INFLUXDB_TOKEN", &cfg.InfluxDB.Token)
	str("INFLUXDB_ORG", &cfg.InfluxDB.Org)
	str("INFLUXDB_BUCKET", &cfg.InfluxDB.Bucket)

	// Datadog
	flag("DATADOG_ENABLED", &cfg.Datadog.Enabled)
	str("DATADOG_ADDRESS", &cfg.Datadog.Address)

	// Logging
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// IsTruthy reports whether an environment-style flag value means "enabled".
// Accepted values are true, 1, y, yes and on, case-insensitively.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "y", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks the configuration and reports every problem at once.
//
// Returns:
//   - error: Description of all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Camera
	if c.Amcrest.Host == "" {
		errs = append(errs, "amcrest.host is required (set AMCREST_HOST)")
	}
	if c.Amcrest.Password == "" {
		errs = append(errs, "amcrest.password is required (set AMCREST_PASSWORD)")
	}
	if c.Amcrest.Port < 1 || c.Amcrest.Port > 65535 {
		errs = append(errs, "amcrest.port must be between 1 and 65535")
	}
	if c.Amcrest.StoragePollInterval < 0 {
		errs = append(errs, "amcrest.storage_poll_interval must not be negative")
	}
	if c.Amcrest.SettingsPollInterval < 0 {
		errs = append(errs, "amcrest.settings_poll_interval must not be negative")
	}
	if c.Amcrest.DoorbellOffTimeout < 0 {
		errs = append(errs, "amcrest.doorbell_off_timeout must not be negative")
	}

	// MQTT
	if c.MQTT.Host == "" {
		errs = append(errs, "mqtt.host is required (set MQTT_HOST)")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, "mqtt.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TLS.Enabled {
		if c.MQTT.TLS.CACert == "" {
			errs = append(errs, "mqtt.tls.ca_cert is required when TLS is enabled (set MQTT_TLS_CA_CERT)")
		}
		if c.MQTT.TLS.CertFile == "" {
			errs = append(errs, "mqtt.tls.cert is required when TLS is enabled (set MQTT_TLS_CERT)")
		}
		if c.MQTT.TLS.KeyFile == "" {
			errs = append(errs, "mqtt.tls.key is required when TLS is enabled (set MQTT_TLS_KEY)")
		}
	} else if c.MQTT.Username == "" {
		errs = append(errs, "mqtt.username is required when TLS is disabled (set MQTT_USERNAME)")
	}

	// Optional sinks
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}
	if c.Datadog.Enabled && c.Datadog.Address == "" {
		errs = append(errs, "datadog.address is required when datadog is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DiscoveryPrefix returns the Home Assistant discovery prefix, or "" when
// discovery is disabled.
func (c *Config) DiscoveryPrefix() string {
	if !c.HomeAssistant.Enabled {
		return ""
	}
	return c.HomeAssistant.DiscoveryPrefix
}

// StoragePollInterval returns the storage poll interval as a Duration.
func (c *Config) StoragePollInterval() time.Duration {
	return time.Duration(c.Amcrest.StoragePollInterval) * time.Second
}

// SettingsPollInterval returns the config poll interval as a Duration.
func (c *Config) SettingsPollInterval() time.Duration {
	return time.Duration(c.Amcrest.SettingsPollInterval) * time.Second
}

// DoorbellOffTimeout returns the doorbell auto-off delay as a Duration.
func (c *Config) DoorbellOffTimeout() time.Duration {
	return time.Duration(c.Amcrest.DoorbellOffTimeout) * time.Second
}
