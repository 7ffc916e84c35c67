package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server     ServerConfig
	Exchanges  ExchangesConfig
	Aggregator AggregatorConfig
	Fees       FeesConfig
	Logging    LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Host string
	Port int
	// Периодичность рассылки статистики WebSocket клиентам
	StatsInterval time.Duration
	// Таймауты HTTP сервера
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ExchangesConfig - общие настройки коннекторов бирж
type ExchangesConfig struct {
	// Минимальный 24ч объём инструмента для попадания во вселенную
	MinVolume24hUsd float64

	// Переподключение WebSocket
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	ConnectTimeout       time.Duration

	// REST опросы
	FundingPollInterval time.Duration
	// Частота опроса цен ethereal (у биржи нет WebSocket)
	EtherealPollInterval time.Duration
}

// AggregatorConfig - настройки конвейера рыночных данных
type AggregatorConfig struct {
	// Данные без обновлений дольше этого порога считаются устаревшими
	StaleAfter time.Duration
	// TTL неактивных записей истории возможностей
	LifecycleTTL time.Duration
	// Лимит проскальзывания для расчёта максимального объёма, bps
	MaxSlippageBps float64
	// Количество шардов кэша состояния
	NumShards int
}

// FeesConfig - настройки комиссий
type FeesConfig struct {
	// Путь к YAML с переопределениями комиссий; пусто = встроенные значения
	File string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:          getEnv("SERVER_HOST", "0.0.0.0"),
			Port:          getEnvAsInt("SERVER_PORT", 8080),
			StatsInterval: getEnvAsDuration("STATS_INTERVAL", 5*time.Second),
			ReadTimeout:   getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:  getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Exchanges: ExchangesConfig{
			MinVolume24hUsd:      getEnvAsFloat("MIN_VOLUME_24H_USD", 500_000),
			ReconnectDelay:       getEnvAsDuration("WS_RECONNECT_DELAY", 3*time.Second),
			MaxReconnectAttempts: getEnvAsInt("WS_MAX_RECONNECT_ATTEMPTS", 10),
			ConnectTimeout:       getEnvAsDuration("WS_CONNECT_TIMEOUT", 10*time.Second),
			FundingPollInterval:  getEnvAsDuration("FUNDING_POLL_INTERVAL", 10*time.Second),
			EtherealPollInterval: getEnvAsDuration("ETHEREAL_POLL_INTERVAL", time.Second),
		},
		Aggregator: AggregatorConfig{
			StaleAfter:     getEnvAsDuration("STALE_AFTER", 10*time.Second),
			LifecycleTTL:   getEnvAsDuration("LIFECYCLE_TTL", 10*time.Minute),
			MaxSlippageBps: getEnvAsFloat("MAX_SLIPPAGE_BPS", 10),
			NumShards:      getEnvAsInt("NUM_SHARDS", 32),
		},
		Fees: FeesConfig{
			File: getEnv("FEES_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Exchanges.MinVolume24hUsd < 0 {
		return fmt.Errorf("MIN_VOLUME_24H_USD cannot be negative, got %v", c.Exchanges.MinVolume24hUsd)
	}
	if c.Exchanges.MaxReconnectAttempts < 1 {
		return fmt.Errorf("WS_MAX_RECONNECT_ATTEMPTS must be positive, got %d", c.Exchanges.MaxReconnectAttempts)
	}
	if c.Exchanges.EtherealPollInterval <= 0 {
		return fmt.Errorf("ETHEREAL_POLL_INTERVAL must be positive, got %v", c.Exchanges.EtherealPollInterval)
	}
	if c.Aggregator.StaleAfter <= 0 {
		return fmt.Errorf("STALE_AFTER must be positive, got %v", c.Aggregator.StaleAfter)
	}
	if c.Aggregator.MaxSlippageBps <= 0 {
		return fmt.Errorf("MAX_SLIPPAGE_BPS must be positive, got %v", c.Aggregator.MaxSlippageBps)
	}
	if c.Aggregator.NumShards < 1 {
		return fmt.Errorf("NUM_SHARDS must be positive, got %d", c.Aggregator.NumShards)
	}
	return nil
}

// Addr возвращает адрес для http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
