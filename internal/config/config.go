/**
 * @description
 * This package handles the configuration management for the risk-analysis-service.
 * It uses the Viper library to read settings from an optional .env file and from
 * environment variables.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the risk-analysis-service.
type Config struct {
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RabbitMQHost     string `mapstructure:"RABBITMQ_HOST"`
	RabbitMQPort     int    `mapstructure:"RABBITMQ_PORT"`
	RabbitMQUser     string `mapstructure:"RABBITMQ_USER"`
	RabbitMQPassword string `mapstructure:"RABBITMQ_PASSWORD"`
	RabbitMQVHost    string `mapstructure:"RABBITMQ_VHOST"`

	UserCreatedQueue      string `mapstructure:"USER_CREATED_QUEUE"`
	UserCreatedExchange   string `mapstructure:"USER_CREATED_EXCHANGE"`
	UserCreatedBindingKey string `mapstructure:"USER_CREATED_BINDING_KEY"`
	Exchange              string `mapstructure:"EXCHANGE"`
	ExchangeType          string `mapstructure:"EXCHANGE_TYPE"`
	ResultRoutingKey      string `mapstructure:"USER_ANALYSIS_RESULT_ROUTING_KEY"`
	DeadLetterExchange    string `mapstructure:"DEAD_LETTER_EXCHANGE"`

	WorkerCount             int           `mapstructure:"WORKER_COUNT"`
	PrefetchCount           int           `mapstructure:"PREFETCH_COUNT"`
	MaxRedeliveries         int           `mapstructure:"MAX_REDELIVERIES"`
	RedeliveryTTL           time.Duration `mapstructure:"REDELIVERY_TTL"`
	RedeliveryPruneSchedule string        `mapstructure:"REDELIVERY_PRUNE_SCHEDULE"`

	AssessmentStepDelay   time.Duration `mapstructure:"ASSESSMENT_STEP_DELAY"`
	AssessmentSettleDelay time.Duration `mapstructure:"ASSESSMENT_SETTLE_DELAY"`
	AssessmentTimeout     time.Duration `mapstructure:"ASSESSMENT_TIMEOUT"`
	PublishTimeout        time.Duration `mapstructure:"PUBLISH_TIMEOUT"`

	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
}

var boundKeys = []string{
	"RABBITMQ_URL",
	"RABBITMQ_HOST",
	"RABBITMQ_PORT",
	"RABBITMQ_USER",
	"RABBITMQ_PASSWORD",
	"RABBITMQ_VHOST",
	"USER_CREATED_QUEUE",
	"USER_CREATED_EXCHANGE",
	"USER_CREATED_BINDING_KEY",
	"EXCHANGE",
	"EXCHANGE_TYPE",
	"USER_ANALYSIS_RESULT_ROUTING_KEY",
	"DEAD_LETTER_EXCHANGE",
	"WORKER_COUNT",
	"PREFETCH_COUNT",
	"MAX_REDELIVERIES",
	"REDELIVERY_TTL",
	"REDELIVERY_PRUNE_SCHEDULE",
	"ASSESSMENT_STEP_DELAY",
	"ASSESSMENT_SETTLE_DELAY",
	"ASSESSMENT_TIMEOUT",
	"PUBLISH_TIMEOUT",
	"DATABASE_URL",
	"REDIS_URL",
	"REDIS_KEY_PREFIX",
	"SERVER_PORT",
	"PORT",
	"LOG_LEVEL",
}

// LoadConfig reads configuration from an optional .env file in path and from the environment.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("RABBITMQ_HOST", "localhost")
	viper.SetDefault("RABBITMQ_PORT", 5672)
	viper.SetDefault("RABBITMQ_USER", "guest")
	viper.SetDefault("RABBITMQ_PASSWORD", "guest")
	viper.SetDefault("RABBITMQ_VHOST", "/")
	viper.SetDefault("USER_CREATED_QUEUE", "user.created")
	viper.SetDefault("USER_CREATED_BINDING_KEY", "user.created")
	viper.SetDefault("EXCHANGE", "user_events")
	viper.SetDefault("EXCHANGE_TYPE", "topic")
	viper.SetDefault("USER_ANALYSIS_RESULT_ROUTING_KEY", "user.analysis.result")
	viper.SetDefault("WORKER_COUNT", 1)
	viper.SetDefault("PREFETCH_COUNT", 1)
	viper.SetDefault("MAX_REDELIVERIES", 0)
	viper.SetDefault("REDELIVERY_TTL", "1h")
	viper.SetDefault("REDELIVERY_PRUNE_SCHEDULE", "@every 1m")
	viper.SetDefault("ASSESSMENT_STEP_DELAY", "500ms")
	viper.SetDefault("ASSESSMENT_SETTLE_DELAY", "1s")
	viper.SetDefault("ASSESSMENT_TIMEOUT", "0s")
	viper.SetDefault("PUBLISH_TIMEOUT", "10s")
	viper.SetDefault("REDIS_KEY_PREFIX", "risk_analysis:redelivery")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range boundKeys {
		_ = viper.BindEnv(key)
	}

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config file: %w", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}

	// PORT is set by most container platforms and wins over SERVER_PORT
	if port := strings.TrimSpace(viper.GetString("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.UserCreatedExchange = strings.TrimSpace(config.UserCreatedExchange)
	config.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisKeyPrefix), ":")

	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.PrefetchCount < config.WorkerCount {
		config.PrefetchCount = config.WorkerCount
	}
	if config.MaxRedeliveries < 0 {
		config.MaxRedeliveries = 0
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 10 * time.Second
	}

	if strings.TrimSpace(config.UserCreatedQueue) == "" {
		return config, errors.New("USER_CREATED_QUEUE must not be empty")
	}
	if strings.TrimSpace(config.ResultRoutingKey) == "" {
		return config, errors.New("USER_ANALYSIS_RESULT_ROUTING_KEY must not be empty")
	}

	return config, nil
}

// HasRabbitMQURL reports whether a full AMQP URL was configured.
func (c Config) HasRabbitMQURL() bool {
	return c.RabbitMQURL != ""
}
