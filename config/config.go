// services/gateway/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds the complete configuration for the gateway service.
type Config struct {
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Directory  DirectoryConfig  `mapstructure:"directory"`
	Redis      RedisConfig      `mapstructure:"redis"`
	ServiceBus ServiceBusConfig `mapstructure:"service_bus"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Ops        OpsConfig        `mapstructure:"ops"`
	Logger     *logrus.Logger
}

// MQTTConfig holds the embedded broker settings.
type MQTTConfig struct {
	Port        int           `mapstructure:"port"`
	Host        string        `mapstructure:"host"`
	QoS         byte          `mapstructure:"qos"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// GatewayConfig holds topic routing and payload schema settings.
// Topic names and payload field names are configuration concerns, not code paths.
type GatewayConfig struct {
	DataTopic         string        `mapstructure:"data_topic"`
	CommandTopic      string        `mapstructure:"command_topic"`
	GroupMessageTopic string        `mapstructure:"group_message_topic"`
	AuthorizedTopics  string        `mapstructure:"authorized_topics"`
	DeviceField       string        `mapstructure:"device_field"`
	MessageField      string        `mapstructure:"message_field"`
	GroupField        string        `mapstructure:"group_field"`
	LookupTimeout     time.Duration `mapstructure:"lookup_timeout"`
}

// DirectoryConfig holds the device-info and group-directory provider settings.
type DirectoryConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds the registry mirror connection settings.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	RecordTTL    time.Duration `mapstructure:"record_ttl"`
}

// ServiceBusConfig holds the backend integration bus settings.
type ServiceBusConfig struct {
	ConnectionString string        `mapstructure:"connection_string"`
	OutboundQueue    string        `mapstructure:"outbound_queue"`
	EventQueue       string        `mapstructure:"event_queue"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
}

// DatabaseConfig holds the command journal connection settings.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// OpsConfig holds the HTTP ops server settings.
type OpsConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Load reads configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("GATEWAY")
	viper.AutomaticEnv()

	// Set defaults. mqtt.port has no default: it is required.
	// mqtt.qos defaults to 0 and an explicit 0 stays 0.
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.grace_period", "5s")

	viper.SetDefault("gateway.data_topic", "data")
	viper.SetDefault("gateway.command_topic", "command")
	viper.SetDefault("gateway.group_message_topic", "groupmessage")
	viper.SetDefault("gateway.device_field", "device")
	viper.SetDefault("gateway.message_field", "message")
	viper.SetDefault("gateway.group_field", "deviceGroup")
	viper.SetDefault("gateway.lookup_timeout", "10s")

	viper.SetDefault("directory.timeout", "10s")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.record_ttl", "24h")

	viper.SetDefault("service_bus.outbound_queue", "gateway-outbound")
	viper.SetDefault("service_bus.event_queue", "gateway-events")
	viper.SetDefault("service_bus.max_retries", 3)
	viper.SetDefault("service_bus.retry_delay", "1s")

	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("ops.port", 8080)
	viper.SetDefault("ops.read_timeout", "15s")
	viper.SetDefault("ops.write_timeout", "15s")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error if using env vars
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.MQTT.Port <= 0 {
		return fmt.Errorf("mqtt.port is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if (c.MQTT.User == "") != (c.MQTT.Password == "") {
		return fmt.Errorf("mqtt.user and mqtt.password must be set together")
	}
	return nil
}
