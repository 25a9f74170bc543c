/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	BankPrefix               string `mapstructure:"BANK_PREFIX"`
	AllowedCurrencies        string `mapstructure:"ALLOWED_CURRENCIES"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	SettlementExchange       string `mapstructure:"SETTLEMENT_EXCHANGE"`
	SettlementEventQueue     string `mapstructure:"SETTLEMENT_EVENT_QUEUE"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	JWKSURL                  string `mapstructure:"JWKS_URL"`
	TransferRateLimitPerMin  int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	SettlementTimeoutMinutes int    `mapstructure:"EXTERNAL_SETTLEMENT_TIMEOUT_MINUTES"`
	ReconcileSchedule        string `mapstructure:"RECONCILE_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("BANK_PREFIX", "FERRO")
	viper.SetDefault("ALLOWED_CURRENCIES", "EUR,USD,GBP")
	viper.SetDefault("SETTLEMENT_EXCHANGE", "interbank.settlement")
	viper.SetDefault("SETTLEMENT_EVENT_QUEUE", "ledger_service.settlement_updates")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ledger:rate_limit")
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("EXTERNAL_SETTLEMENT_TIMEOUT_MINUTES", 1440)
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 15m")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("BANK_PREFIX")
	_ = viper.BindEnv("ALLOWED_CURRENCIES")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SETTLEMENT_EXCHANGE")
	_ = viper.BindEnv("SETTLEMENT_EVENT_QUEUE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("EXTERNAL_SETTLEMENT_TIMEOUT_MINUTES")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.BankPrefix = strings.ToUpper(strings.TrimSpace(config.BankPrefix))
	if config.BankPrefix == "" {
		config.BankPrefix = "FERRO"
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ledger:rate_limit"
	}
	if config.TransferRateLimitPerMin < 0 {
		log.Printf("level=warn component=config msg=\"negative transfer rate limit configured; disabling\" limit=%d", config.TransferRateLimitPerMin)
		config.TransferRateLimitPerMin = 0
	}
	if config.SettlementTimeoutMinutes <= 0 {
		config.SettlementTimeoutMinutes = 1440
	}
	if strings.TrimSpace(config.ReconcileSchedule) == "" {
		config.ReconcileSchedule = "@every 15m"
	}

	return
}

// AllowedCurrencyList splits the configured comma-separated currency codes.
func (c Config) AllowedCurrencyList() []string {
	parts := strings.Split(c.AllowedCurrencies, ",")
	currencies := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			currencies = append(currencies, p)
		}
	}
	return currencies
}
