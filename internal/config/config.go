package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "voltgrid/libs/config"
)

// Config defines the voltgrid service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"VOLTGRID_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN          string `yaml:"dsn" env:"VOLTGRID_POSTGRES_DSN"`
		MaxOpenConns int    `yaml:"maxOpenConns" env:"VOLTGRID_POSTGRES_MAX_OPEN"`
		Migrate      bool   `yaml:"migrate" env:"VOLTGRID_POSTGRES_MIGRATE"`
	} `yaml:"database"`
	Redis struct {
		Addr            string `yaml:"addr" env:"VOLTGRID_REDIS_ADDR"`
		Password        string `yaml:"password" env:"VOLTGRID_REDIS_PASSWORD"`
		DB              int    `yaml:"db" env:"VOLTGRID_REDIS_DB"`
		BookableTTLSecs int    `yaml:"bookableTTLSeconds" env:"VOLTGRID_REDIS_BOOKABLE_TTL"`
		OccupancyTTLSec int    `yaml:"occupancyTTLSeconds" env:"VOLTGRID_REDIS_OCCUPANCY_TTL"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret" env:"VOLTGRID_JWT_SECRET"`
	} `yaml:"auth"`
	Booking struct {
		TimeoutMinutes    int `yaml:"timeoutMinutes" env:"VOLTGRID_BOOKING_TIMEOUT_MINUTES"`
		SweepIntervalSecs int `yaml:"sweepIntervalSeconds" env:"VOLTGRID_BOOKING_SWEEP_INTERVAL"`
	} `yaml:"booking"`
	Wallet struct {
		MinRecharge int64 `yaml:"minRecharge" env:"VOLTGRID_WALLET_MIN_RECHARGE"`
		MaxRecharge int64 `yaml:"maxRecharge" env:"VOLTGRID_WALLET_MAX_RECHARGE"`
	} `yaml:"wallet"`
	Notify struct {
		QueueSize        int `yaml:"queueSize" env:"VOLTGRID_NOTIFY_QUEUE_SIZE"`
		Workers          int `yaml:"workers" env:"VOLTGRID_NOTIFY_WORKERS"`
		PingIntervalSecs int `yaml:"pingIntervalSeconds" env:"VOLTGRID_NOTIFY_PING_INTERVAL"`
	} `yaml:"notify"`
}

// Load reads configuration via the shared helper and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.BookableTTLSecs = 30
	cfg.Redis.OccupancyTTLSec = 4 * 3600
	cfg.Booking.TimeoutMinutes = 15
	cfg.Booking.SweepIntervalSecs = 60
	cfg.Wallet.MinRecharge = 10
	cfg.Wallet.MaxRecharge = 50000
	cfg.Notify.QueueSize = 256
	cfg.Notify.Workers = 4
	cfg.Notify.PingIntervalSecs = 30

	if err := libconfig.Load(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return nil, errors.New("config: redis addr required")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("config: jwt secret required")
	}
	if cfg.Wallet.MinRecharge <= 0 || cfg.Wallet.MaxRecharge < cfg.Wallet.MinRecharge {
		return nil, errors.New("config: invalid recharge bounds")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// BookingTimeout returns how long a pending request may go unactioned.
func (c *Config) BookingTimeout() time.Duration {
	if c.Booking.TimeoutMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Booking.TimeoutMinutes) * time.Minute
}

// SweepInterval returns the expiry sweep period.
func (c *Config) SweepInterval() time.Duration {
	if c.Booking.SweepIntervalSecs <= 0 {
		return time.Minute
	}
	return time.Duration(c.Booking.SweepIntervalSecs) * time.Second
}

// BookableTTL returns how long a host bookable answer may be cached.
func (c *Config) BookableTTL() time.Duration {
	if c.Redis.BookableTTLSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Redis.BookableTTLSecs) * time.Second
}

// OccupancyTTL returns how long a redis slot claim may outlive its session.
func (c *Config) OccupancyTTL() time.Duration {
	if c.Redis.OccupancyTTLSec <= 0 {
		return 4 * time.Hour
	}
	return time.Duration(c.Redis.OccupancyTTLSec) * time.Second
}

// PingInterval returns the websocket keepalive period.
func (c *Config) PingInterval() time.Duration {
	if c.Notify.PingIntervalSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Notify.PingIntervalSecs) * time.Second
}
