// Package config содержит логику чтения конфигурации сервиса столовой.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса столовой.
type Config struct {
	RunAddress             string  `env:"RUN_ADDRESS"`
	DatabaseURI            string  `env:"DATABASE_URI"`
	PaymentTerminalAddress string  `env:"PAYMENT_TERMINAL_ADDRESS"`
	CardSuccessRate        float64 `env:"CARD_SUCCESS_RATE"`
	WalletSuccessRate      float64 `env:"WALLET_SUCCESS_RATE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envTerminalAddress := cfg.PaymentTerminalAddress
	envCardRate := cfg.CardSuccessRate
	envWalletRate := cfg.WalletSuccessRate
	// Для числовых переменных ноль — допустимое значение (всегда
	// отклоняющий шлюз), поэтому отслеживаем сам факт их наличия.
	_, cardRateSet := os.LookupEnv("CARD_SUCCESS_RATE")
	_, walletRateSet := os.LookupEnv("WALLET_SUCCESS_RATE")

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentTerminalAddress, "t", "", "payment terminal address")
	flag.Float64Var(&cfg.CardSuccessRate, "c", 0.9, "simulated card payment success rate")
	flag.Float64Var(&cfg.WalletSuccessRate, "w", 0.95, "simulated wallet payment success rate")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envTerminalAddress != "" {
		cfg.PaymentTerminalAddress = envTerminalAddress
	}
	if cardRateSet {
		cfg.CardSuccessRate = envCardRate
	}
	if walletRateSet {
		cfg.WalletSuccessRate = envWalletRate
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
