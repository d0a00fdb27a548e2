package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/pflag"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type AppConfig struct {
	Env           string `yaml:"env" env:"ENV" env-default:"prod"`
	AppName       string `yaml:"app_name" env:"APP_NAME" env-default:"Gateway"`
	SessionDir    string `yaml:"session_dir" env:"SESSION_DIR" env-default:"./sessions"`
	DevicesFile   string `yaml:"devices_file" env:"DEVICES_FILE" env-default:"./devices.yaml"`
	HTTPAddr      string `yaml:"http_addr" env:"HTTP_ADDR" env-default:":8080"`
	StartParallel int    `yaml:"start_parallel" env:"START_PARALLEL" env-default:"4"`

	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Restart  RestartConfig  `yaml:"restart"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// RedisConfig пустой Addr - хранилище в памяти
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"whatsapp"`
}

// RabbitMQConfig пустой Host - публикация в брокер выключена
type RabbitMQConfig struct {
	Host        string `yaml:"host" env:"RABBITMQ_URL"`
	Port        int    `yaml:"port" env:"RABBITMQ_PORT" env-default:"5672"`
	Username    string `yaml:"username" env:"RABBITMQ_USERNAME"`
	Password    string `yaml:"password" env:"RABBITMQ_PASSWORD"`
	QueuePrefix string `yaml:"queue_prefix" env:"RABBITMQ_QUEUE_PREFIX" env-default:"inbound."`
}

func (c RabbitMQConfig) Enabled() bool { return c.Host != "" }

type RestartConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" env:"RESTART_MAX_ATTEMPTS" env-default:"10"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"RESTART_INITIAL_DELAY" env-default:"1s"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"RESTART_MAX_DELAY" env-default:"1m"`
	Multiplier   float64       `yaml:"multiplier" env:"RESTART_MULTIPLIER" env-default:"2"`
}

type WebhookConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"WEBHOOK_MAX_ATTEMPTS" env-default:"3"`
	Timeout     time.Duration `yaml:"timeout" env:"WEBHOOK_TIMEOUT" env-default:"10s"`
}

type TelegramConfig struct {
	APIID        int32  `yaml:"api_id" env:"TELEGRAM_API_ID"`
	APIHash      string `yaml:"api_hash" env:"TELEGRAM_API_HASH"`
	AppVersion   string `yaml:"app_version" env:"TELEGRAM_APP_VERSION" env-default:"2.0"`
	LogVerbosity int32  `yaml:"log_verbosity" env:"TELEGRAM_LOG_VERBOSITY" env-default:"1"`
	ProbeNetwork bool   `yaml:"probe_network" env:"TELEGRAM_PROBE_NETWORK" env-default:"false"`
}

// Load читает YAML (если путь задан) и переменные окружения поверх него
func Load(args []string) (*AppConfig, error) {
	path, err := fetchConfigPath(args)
	if err != nil {
		return nil, err
	}

	var cfg AppConfig
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфига: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	var errs []error

	if c.Env != EnvDev && c.Env != EnvProd {
		errs = append(errs, fmt.Errorf("env must be %q or %q, got %q", EnvDev, EnvProd, c.Env))
	}
	if c.Telegram.APIID == 0 || c.Telegram.APIHash == "" {
		errs = append(errs, errors.New("TELEGRAM_API_ID, TELEGRAM_API_HASH должны быть заданы"))
	}
	if c.SessionDir == "" {
		errs = append(errs, errors.New("session_dir is required"))
	}
	if c.DevicesFile == "" {
		errs = append(errs, errors.New("devices_file is required"))
	}
	if c.Restart.MaxAttempts < 0 {
		errs = append(errs, errors.New("restart.max_attempts must not be negative"))
	}
	if c.Restart.Multiplier < 1 {
		errs = append(errs, errors.New("restart.multiplier must be >= 1"))
	}
	if c.Restart.MaxDelay > 0 && c.Restart.MaxDelay < c.Restart.InitialDelay {
		errs = append(errs, errors.New("restart.max_delay must be >= restart.initial_delay"))
	}
	if c.Webhook.MaxAttempts < 1 {
		errs = append(errs, errors.New("webhook.max_attempts must be >= 1"))
	}
	if c.RabbitMQ.Enabled() && c.RabbitMQ.Port <= 0 {
		errs = append(errs, errors.New("rabbitmq.port must be positive"))
	}

	return errors.Join(errs...)
}

// fetchConfigPath путь к конфигу: флаг --config, потом CONFIG_PATH.
// Пустая строка - только переменные окружения.
func fetchConfigPath(args []string) (string, error) {
	flags := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	path := flags.String("config", "", "path to config file")
	if err := flags.Parse(args); err != nil {
		return "", err
	}

	if *path == "" {
		*path = os.Getenv("CONFIG_PATH")
	}
	return *path, nil
}
