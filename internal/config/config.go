package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env  string
	Port int

	DBURL string

	// Worker tuning
	BatchSize     int
	Concurrency   int
	PollInterval  time.Duration
	LockTTL       time.Duration
	ShutdownGrace time.Duration

	// Public card links, e.g. https://outreachpass.example
	CardBaseURL string

	RedisAddr     string
	RedisPassword string

	AMQPURL      string
	AMQPExchange string

	OTLPEndpoint string

	JWTSecret           string
	JWTAccessTTLMinutes int

	AdminEmail    string
	AdminPassword string

	AppleWalletEnabled  bool
	GoogleWalletEnabled bool
}

// fileOverlay mirrors the optional config.yaml; env vars still win.
type fileOverlay struct {
	Env         string `yaml:"env"`
	Port        int    `yaml:"port"`
	CardBaseURL string `yaml:"cardBaseUrl"`

	Worker struct {
		BatchSize    int `yaml:"batchSize"`
		Concurrency  int `yaml:"concurrency"`
		PollSeconds  int `yaml:"pollSeconds"`
		LockSeconds  int `yaml:"lockSeconds"`
		GraceSeconds int `yaml:"graceSeconds"`
	} `yaml:"worker"`
}

func Load() Config {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := Config{
		Env:  getEnv("APP_ENV", "dev"),
		Port: getEnvInt("PORT", 8080),

		DBURL: buildDBURL(),

		BatchSize:     getEnvInt("WORKER_BATCH_SIZE", 20),
		Concurrency:   getEnvInt("WORKER_CONCURRENCY", 4),
		PollInterval:  time.Duration(getEnvInt("WORKER_POLL_MS", 2000)) * time.Millisecond,
		LockTTL:       time.Duration(getEnvInt("WORKER_LOCK_TTL_SECONDS", 300)) * time.Second,
		ShutdownGrace: time.Duration(getEnvInt("WORKER_SHUTDOWN_GRACE_SECONDS", 10)) * time.Second,

		CardBaseURL: getEnv("CARD_BASE_URL", "https://outreachpass.example"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "passhub.jobs"),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),

		JWTSecret:           getEnv("JWT_SECRET", ""),
		JWTAccessTTLMinutes: getEnvInt("JWT_ACCESS_TTL_MINUTES", 60),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		AppleWalletEnabled:  getEnvBool("APPLE_WALLET_ENABLED", true),
		GoogleWalletEnabled: getEnvBool("GOOGLE_WALLET_ENABLED", true),
	}

	applyOverlay(&cfg, getEnv("CONFIG_FILE", ""))

	return cfg
}

// applyOverlay fills values from a yaml file for anything the
// environment left at its default. Missing file is not an error.
func applyOverlay(cfg *Config, path string) {
	if path == "" {
		return
	}

	raw, err := os.ReadFile(path)

	if err != nil {
		fmt.Println("config overlay skipped:", err)
		return
	}

	var f fileOverlay

	if err := yaml.Unmarshal(raw, &f); err != nil {
		fmt.Println("config overlay invalid:", err)
		return
	}

	if os.Getenv("APP_ENV") == "" && f.Env != "" {
		cfg.Env = f.Env
	}
	if os.Getenv("PORT") == "" && f.Port > 0 {
		cfg.Port = f.Port
	}
	if os.Getenv("CARD_BASE_URL") == "" && f.CardBaseURL != "" {
		cfg.CardBaseURL = f.CardBaseURL
	}
	if os.Getenv("WORKER_BATCH_SIZE") == "" && f.Worker.BatchSize > 0 {
		cfg.BatchSize = f.Worker.BatchSize
	}
	if os.Getenv("WORKER_CONCURRENCY") == "" && f.Worker.Concurrency > 0 {
		cfg.Concurrency = f.Worker.Concurrency
	}
	if os.Getenv("WORKER_POLL_MS") == "" && f.Worker.PollSeconds > 0 {
		cfg.PollInterval = time.Duration(f.Worker.PollSeconds) * time.Second
	}
	if os.Getenv("WORKER_LOCK_TTL_SECONDS") == "" && f.Worker.LockSeconds > 0 {
		cfg.LockTTL = time.Duration(f.Worker.LockSeconds) * time.Second
	}
	if os.Getenv("WORKER_SHUTDOWN_GRACE_SECONDS") == "" && f.Worker.GraceSeconds > 0 {
		cfg.ShutdownGrace = time.Duration(f.Worker.GraceSeconds) * time.Second
	}
}

func buildDBURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "passhub")
	pass := getEnv("DB_PASSWORD", "passhub")
	name := getEnv("DB_NAME", "passhub")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)

		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}
