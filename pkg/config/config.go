// Package config loads this service's configuration the way the teacher's
// own pkg/config does: a .env file optionally loaded into the process
// environment, viper defaults set, env vars bound with a "." -> "_"
// replacer, everything unmarshaled into one struct, then a small amount of
// fail-fast validation.
package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every configuration knob this service reads (spec §6,
// extended by SPEC_FULL §6).
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Market    MarketConfig    `mapstructure:"market"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	EventLog  EventLogConfig  `mapstructure:"eventlog"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// AppConfig is the process-level listen address and environment name.
type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

// MarketConfig holds the spec §6 simulation/tick/subscription knobs.
type MarketConfig struct {
	SimulationVolatility   float64 `mapstructure:"simulation_volatility"`
	TickPeriodMs           int     `mapstructure:"tick_period_ms"`
	SubscriptionTimeoutMin int     `mapstructure:"subscription_timeout_min"`
	SweepPeriodSec         int     `mapstructure:"sweep_period_sec"`
	SeedPath               string  `mapstructure:"seed_path"`
}

// JWTConfig holds the bearer-token validation secret (spec §6).
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// RateLimitConfig configures the quota layer spec.md's Design Notes §9
// allows as an optional addition (SPEC_FULL §9).
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	RedisAddr         string  `mapstructure:"redis_addr"`
}

// EventLogConfig configures the optional Kafka audit sink (SPEC_FULL §9).
type EventLogConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

// LoggerConfig configures the zap logger threaded through every component.
type LoggerConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig reads configuration from environment variables, a .env file,
// and defaults, in that order of decreasing precedence (.env never
// overrides a variable already set in the process environment). A variable
// set to the empty string counts as set.
func LoadConfig() (*Config, error) {
	v := viper.New()

	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	bindEnv(v,
		"app.port", "app.env",
		"market.simulation_volatility", "market.tick_period_ms",
		"market.subscription_timeout_min", "market.sweep_period_sec", "market.seed_path",
		"jwt.secret",
		"ratelimit.requests_per_second", "ratelimit.burst", "ratelimit.redis_addr",
		"eventlog.kafka_brokers", "eventlog.kafka_topic",
		"logger.level",
	)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.Market.SeedPath == "" {
		return nil, fmt.Errorf("market.seed_path must not be empty")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("market.simulation_volatility", 0.02)
	v.SetDefault("market.tick_period_ms", 5000)
	v.SetDefault("market.subscription_timeout_min", 5)
	v.SetDefault("market.sweep_period_sec", 60)
	v.SetDefault("market.seed_path", "market.json")

	v.SetDefault("jwt.secret", "")

	v.SetDefault("ratelimit.requests_per_second", 5.0)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("ratelimit.redis_addr", "")

	v.SetDefault("eventlog.kafka_brokers", []string{})
	v.SetDefault("eventlog.kafka_topic", "market.events")

	v.SetDefault("logger.level", "info")
}

// bindEnv binds multiple viper keys to their ".": "_" equivalent env vars at
// once, logging (never failing) if one can't be bound.
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
