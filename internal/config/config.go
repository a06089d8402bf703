package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DBHost     string `envconfig:"DB_HOST"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	AppPort    string `envconfig:"APP_PORT" default:"8080"`
	AppEnv     string `envconfig:"APP_ENV" default:"development"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
	JWTSecret  string `envconfig:"JWT_SECRET"`

	HTTPRequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"10s"`

	SepTerminalID  string `envconfig:"SEP_TERMINAL_ID"`
	SepCallbackURL string `envconfig:"SEP_CALLBACK_URL"`
	SepBaseURL     string `envconfig:"SEP_BASE_URL" default:"https://sep.shaparak.ir"`

	// where the buyer lands after the gateway callback; empty means JSON
	PaymentResultURL string `envconfig:"PAYMENT_RESULT_URL"`
	InternalAPIKey   string `envconfig:"INTERNAL_API_KEY"`
	ImageBaseURL     string `envconfig:"IMAGE_BASE_URL" default:"/media/"`

	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `envconfig:"TELEGRAM_CHAT_ID"`

	// hex encoded 32 byte key used to seal requirement passwords
	RequirementKey string `envconfig:"REQUIREMENT_KEY"`
}

// Runtime holds the settings shared by every outbound call. It is built once
// at startup and passed by reference; nothing mutates it afterwards.
type Runtime struct {
	HTTPRequestTimeout time.Duration
}

func (c *Config) Runtime() *Runtime {
	return &Runtime{HTTPRequestTimeout: c.HTTPRequestTimeout}
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

// Load reads .env (if present) and the process environment without
// enforcing required fields.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
