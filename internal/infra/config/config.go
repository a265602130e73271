package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервиса таймлайнов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Fanout struct {
		Enabled    bool `envconfig:"FANOUT_TIMELINE_ENABLED" default:"true"`
		DBFallback bool `envconfig:"FANOUT_DB_FALLBACK_ENABLED" default:"true"`
		MaxDepth   int  `envconfig:"FANOUT_MAX_DEPTH" default:"300"`
	} `envconfig:""`

	Relations struct {
		CacheTTL time.Duration `envconfig:"RELATION_CACHE_TTL" default:"5m"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
