package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Client configures the realtime client (chatctl).
type Client struct {
	APIURL         string        `env:"CHAT_API_URL" envDefault:"http://localhost:8080"`
	WSURL          string        `env:"CHAT_WS_URL" envDefault:"ws://localhost:8080/ws"`
	Token          string        `env:"CHAT_TOKEN"`
	ReconnectDelay time.Duration `env:"CHAT_RECONNECT_DELAY" envDefault:"3s"` // fixed, not exponential
	TypingInterval time.Duration `env:"CHAT_TYPING_INTERVAL" envDefault:"2s"`
	LogLevel       string        `env:"CHAT_LOG_LEVEL" envDefault:"info"`
	MetricsAddr    string        `env:"CHAT_METRICS_ADDR"`
}

// Server configures the relay (cmd/server).
type Server struct {
	Addr         string `env:"ADDR" envDefault:":8080"`
	DSN          string `env:"DB_DSN,required,notEmpty"`
	JWTSecret    string `env:"JWT_SECRET,required,notEmpty"`
	RedisAddr    string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	HistoryLimit int    `env:"HISTORY_LIMIT" envDefault:"50"`
}

// LoadClient reads an optional .env file and then the environment.
func LoadClient() (*Client, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	cfg := &Client{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("config: CHAT_RECONNECT_DELAY must be positive, got %s", cfg.ReconnectDelay)
	}
	return cfg, nil
}

func LoadServer() (*Server, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	cfg := &Server{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return cfg, nil
}

func loadDotenv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("config: .env: %w", err)
}
