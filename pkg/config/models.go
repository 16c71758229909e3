package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL"`
}

type ConnectionLimitConfig struct {
	MaxPerIP int    `mapstructure:"maxPerIP"`
	Mode     string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	PingInterval   time.Duration `mapstructure:"pingInterval"`
	MaxMessageSize int64         `mapstructure:"maxMessageSize"`
}

type DatabaseConfig struct {
	Driver       string        // "mysql" or "sqlite"
	DSN          string        `mapstructure:"dsn"`
	QueryTimeout time.Duration `mapstructure:"queryTimeout"`
}

// RedisConfig gates the optional presence mirror. An empty Addr disables it.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PresenceTTL time.Duration `mapstructure:"presenceTTL"`
}

type LoggingConfig struct {
	Level string
}
