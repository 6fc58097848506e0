package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port          int
	ClientID      string
	DatabaseURL   string
	DBPath        string
	LogLevel      string
	OpenAIAPIKey  string
	OpenAIModel   string
	NatsURL       string
	NatsToken     string
	SlackBotToken string
	SlackChannel  string

	BatchSize     int
	Workers       int
	MaxQuoteChars int
	RetryAttempts int
}

func Load() Config {
	return Config{
		Port:          envInt("VOC_PORT", 8460),
		ClientID:      envStr("CLIENT_ID", "default"),
		DatabaseURL:   envStr("DATABASE_URL", ""),
		DBPath:        envStr("VOC_DB_PATH", "voc_pipeline.db"),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		OpenAIAPIKey:  envStr("OPENAI_API_KEY", ""),
		OpenAIModel:   envStr("VOC_MODEL", "gpt-4o-mini"),
		NatsURL:       envStr("NATS_URL", ""),
		NatsToken:     envStr("NATS_TOKEN", ""),
		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_VOC_CHANNEL", ""),
		BatchSize:     envInt("VOC_BATCH_SIZE", 15),
		Workers:       envInt("VOC_WORKERS", 4),
		MaxQuoteChars: envInt("VOC_MAX_QUOTE_CHARS", 1200),
		RetryAttempts: envInt("VOC_RETRY_ATTEMPTS", 3),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
