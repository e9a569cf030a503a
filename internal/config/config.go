package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"flipbot/internal/model"
)

type Config struct {
	Server    ServerConfig
	Data      DataConfig
	Telegram  TelegramConfig
	Processor ProcessorConfig
	Price     PriceConfig
	RateLimit model.RateLimitConfig
	AdminKey  string
	LogLevel  string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DataConfig struct {
	Dir string
}

type TelegramConfig struct {
	Token            string
	OperationsChatID int64
	Operators        []string
}

type ProcessorConfig struct {
	BaseURL     string
	Account     string
	TransferKey string
}

type PriceConfig struct {
	BaseURL string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  time.Duration(getEnvAsInt("READ_TIMEOUT", 10)) * time.Second,
			WriteTimeout: time.Duration(getEnvAsInt("WRITE_TIMEOUT", 10)) * time.Second,
		},
		Data: DataConfig{
			Dir: getEnv("DATA_DIR", "./data"),
		},
		Telegram: TelegramConfig{
			Token:            getEnv("TELEGRAM_TOKEN", ""),
			OperationsChatID: getEnvAsInt64("OPERATIONS_CHAT_ID", 0),
			Operators:        getEnvAsList("OPERATORS", ""),
		},
		Processor: ProcessorConfig{
			BaseURL:     getEnv("PROCESSOR_BASE_URL", "https://apirone.com/api/v2"),
			Account:     getEnv("PROCESSOR_ACCOUNT", ""),
			TransferKey: getEnv("PROCESSOR_TRANSFER_KEY", ""),
		},
		Price: PriceConfig{
			BaseURL: getEnv("PRICE_BASE_URL", "https://api.coingecko.com"),
		},
		RateLimit: model.RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 10),
			BurstSize:         getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		AdminKey: getEnv("ADMIN_API_KEY", ""),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal string) []string {
	raw := getEnv(key, defaultVal)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
