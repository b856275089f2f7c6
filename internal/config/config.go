package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port          string
	AllowedOrigin string

	TerminalID string
	BusinessID string

	// Local durable queue. QueueDir is the default backend; a redis address
	// switches the queue to a local redis with AOF persistence.
	QueueDir      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisQueueKey string

	// Sales Backend. DatabaseURL selects the direct-DB client; otherwise
	// BackendURL selects the REST client.
	DatabaseURL   string
	BackendURL    string
	BackendSecret string

	ProbeIntervalSeconds int

	// OperatorPINHash is a bcrypt hash gating the local capture API. Empty
	// disables the gate.
	OperatorPINHash string

	// CommissionCentsPerService is the flat staff commission credited per
	// service unit sold.
	CommissionCentsPerService int64
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("QUEUE_REDIS_DB", "0"))
	probe, err := strconv.Atoi(getEnv("PROBE_INTERVAL_SECONDS", "15"))
	if err != nil || probe < 1 {
		probe = 15
	}
	commission, err := strconv.ParseInt(getEnv("COMMISSION_CENTS_PER_SERVICE", "10000"), 10, 64)
	if err != nil || commission < 0 {
		commission = 10000
	}

	return Config{
		Port:                      getEnv("PORT", "7070"),
		AllowedOrigin:             getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		TerminalID:                getEnv("TERMINAL_ID", "terminal-1"),
		BusinessID:                os.Getenv("BUSINESS_ID"),
		QueueDir:                  getEnv("QUEUE_DIR", "data/queue"),
		RedisAddr:                 os.Getenv("QUEUE_REDIS_ADDR"),
		RedisPassword:             os.Getenv("QUEUE_REDIS_PASSWORD"),
		RedisDB:                   redisDB,
		RedisQueueKey:             os.Getenv("QUEUE_REDIS_KEY"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		BackendURL:                strings.TrimRight(os.Getenv("BACKEND_URL"), "/"),
		BackendSecret:             strings.TrimSpace(os.Getenv("BACKEND_AUTH_SECRET")),
		ProbeIntervalSeconds:      probe,
		OperatorPINHash:           strings.TrimSpace(os.Getenv("OPERATOR_PIN_HASH")),
		CommissionCentsPerService: commission,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
