package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel string `env:"EXCHANGE_LOG_LEVEL" env-default:"info"`
	LogJSON  bool   `env:"EXCHANGE_LOG_JSON" env-default:"true"`

	DBURI string `env:"EXCHANGE_DB_URI" env-required:"true"`

	MetricsAddress string `env:"EXCHANGE_METRICS_ADDRESS" env-default:":9102"`

	JWTSecret string `env:"EXCHANGE_JWT_SECRET" env-required:"true"`

	Kafka          KafkaConfig
	Redis          RedisConfig
	RateLimit      RateLimitConfig
	CircuitBreaker CircuitBreakerConfig
}

type KafkaConfig struct {
	Brokers   []string `env:"EXCHANGE_KAFKA_BROKERS" env-separator:","`
	TickTopic string   `env:"EXCHANGE_KAFKA_TICK_TOPIC" env-default:"exchange.ticks"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type RedisConfig struct {
	Address  string `env:"EXCHANGE_REDIS_ADDRESS"`
	Password string `env:"EXCHANGE_REDIS_PASSWORD"`
	DB       int    `env:"EXCHANGE_REDIS_DB" env-default:"0"`
}

func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

type RateLimitConfig struct {
	PlaceLimit  int64         `env:"EXCHANGE_RATE_PLACE_LIMIT" env-default:"60"`
	PlaceWindow time.Duration `env:"EXCHANGE_RATE_PLACE_WINDOW" env-default:"1m"`
}

type CircuitBreakerConfig struct {
	MaxRequests uint32        `env:"CB_MAX_REQUESTS" env-default:"3"`
	Interval    time.Duration `env:"CB_INTERVAL"     env-default:"10s"`
	Timeout     time.Duration `env:"CB_TIMEOUT"      env-default:"30s"`
	MaxFailures uint32        `env:"CB_MAX_FAILURES" env-default:"5"`
}

func Load(path string) (*Config, error) {
	config := &Config{}
	if err := cleanenv.ReadConfig(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadEnv reads configuration from the process environment only, without a
// config file.
func LoadEnv() (*Config, error) {
	config := &Config{}
	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}
