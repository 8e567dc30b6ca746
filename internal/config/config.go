package config

import (
	"os"
	"strconv"
	"time"

	"tamacloud/pkg/database"
	"tamacloud/pkg/mqttx"
	"tamacloud/pkg/redisx"
)

// Config 服务配置
type Config struct {
	HTTPAddr string

	Database database.Config
	Redis    redisx.Config

	// RedisEnabled 为 false 时跳过流镜像
	RedisEnabled bool

	MQTT        mqttx.Config
	MQTTEnabled bool

	// PetTickInterval 宠物引擎周期
	PetTickInterval time.Duration
	// StatsInterval 步数日统计重算周期
	StatsInterval time.Duration

	CaptionEnabled  bool
	CaptionBaseURL  string
	CaptionModel    string
	CaptionInterval time.Duration

	LogLevel  string
	LogFormat string
}

// Load 从环境变量加载配置
func Load() *Config {
	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8056"),
		Database: database.Config{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     parseInt(getEnv("DB_PORT", "5432"), 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_DATABASE", "tamacloud"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: parseInt(getEnv("DB_MAX_CONNS", "10"), 10),
			MaxIdle:  parseInt(getEnv("DB_MAX_IDLE", "5"), 5),
		},
		Redis: redisx.Config{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt(getEnv("REDIS_DB", "0"), 0),
		},
		RedisEnabled: getEnv("REDIS_ENABLED", "false") == "true",
		MQTT: mqttx.Config{
			Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID: getEnv("MQTT_CLIENT_ID", "tamacloud-server"),
			Username: getEnv("MQTT_USERNAME", ""),
			Password: getEnv("MQTT_PASSWORD", ""),
			QoS:      byte(parseInt(getEnv("MQTT_QOS", "1"), 1)),
		},
		MQTTEnabled: getEnv("MQTT_ENABLED", "false") == "true",

		PetTickInterval: parseDuration(getEnv("PET_TICK_INTERVAL", "60s"), time.Minute),
		StatsInterval:   parseDuration(getEnv("STATS_INTERVAL", "60s"), time.Minute),

		CaptionEnabled:  getEnv("CAPTION_ENABLED", "false") == "true",
		CaptionBaseURL:  getEnv("CAPTION_BASE_URL", "http://localhost:11434"),
		CaptionModel:    getEnv("CAPTION_MODEL", "llava"),
		CaptionInterval: parseDuration(getEnv("CAPTION_INTERVAL", "30s"), 30*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
