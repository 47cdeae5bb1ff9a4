package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token      string        `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string        `envconfig:"TG_WEBHOOK_URL"`
		UpdateMode string        `envconfig:"TG_UPDATE_MODE" default:"polling"`
		Timeout    time.Duration `envconfig:"TG_HTTP_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Storage struct {
		Driver     string        `envconfig:"STORAGE_DRIVER" default:"postgres"`
		PGDSN      string        `envconfig:"PG_DSN"`
		SQLitePath string        `envconfig:"SQLITE_PATH" default:"inviter.db"`
		Timeout    time.Duration `envconfig:"STORAGE_TIMEOUT" default:"5s"`
	} `envconfig:""`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Actions struct {
		Sink      string `envconfig:"ACTIONS_SINK" default:"store"`
		Queue     string `envconfig:"ACTIONS_QUEUE" default:"inviter_actions"`
		RabbitURL string `envconfig:"RABBITMQ_URL"`
	} `envconfig:""`

	Scheduler struct {
		Tick            time.Duration `envconfig:"SCHEDULER_TICK" default:"1m"`
		SendTimeout     time.Duration `envconfig:"SEND_TIMEOUT" default:"15s"`
		ApproveTimeout  time.Duration `envconfig:"APPROVE_TIMEOUT" default:"10s"`
		LockTTL         time.Duration `envconfig:"LOCK_TTL" default:"30s"`
		BroadcastWindow time.Duration `envconfig:"BROADCAST_WINDOW" default:"1h"`
	} `envconfig:""`

	DefaultApprovalMode string `envconfig:"DEFAULT_APPROVAL_MODE" default:"manual"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг из окружения и возвращает ошибку вместо завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
