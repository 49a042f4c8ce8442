package config

import (
	"log"
	"os"
	"time"

	"LifeSync/pkg/logger"
	"LifeSync/pkg/util"
)

// EngineConfig 调度引擎可调参数
type EngineConfig struct {
	AvgSpeedKmh         float64       `env:"AVG_SPEED_KMH"`
	MaxRadiusKm         float64       `env:"MAX_RADIUS_KM"`
	MatchTimeout        time.Duration `env:"MATCH_TIMEOUT"`
	MatchBackoffInitial time.Duration `env:"MATCH_BACKOFF_INITIAL"`
	MatchBackoffMax     time.Duration `env:"MATCH_BACKOFF_MAX"`
	ConfirmTimeout      time.Duration `env:"CONFIRM_TIMEOUT"`
	ReservationTimeout  time.Duration `env:"RESERVATION_TIMEOUT"`
	ReservationMode     string        `env:"RESERVATION_MODE"` // console | auto
	NotifyMaxAttempts   int           `env:"NOTIFY_MAX_ATTEMPTS"`
	NotifyWorkers       int           `env:"NOTIFY_WORKERS"`
	FixStaleness        time.Duration `env:"FIX_STALENESS"`
	SessionRetention    time.Duration `env:"SESSION_RETENTION"`
	ArchiveSchedule     string        `env:"ARCHIVE_SCHEDULE"`
	HeartbeatMaxAge     time.Duration `env:"HEARTBEAT_MAX_AGE"`
	ProbeInterval       time.Duration `env:"PROBE_INTERVAL"`
	FacilitySeed        string        `env:"FACILITY_SEED"`
}

// ArchiveConfig 终态会话归档目的地
type ArchiveConfig struct {
	Backend   string `env:"ARCHIVE_BACKEND"` // none | minio | cos
	Endpoint  string `env:"ARCHIVE_ENDPOINT"`
	AccessKey string `env:"ARCHIVE_ACCESS_KEY"`
	SecretKey string `env:"ARCHIVE_SECRET_KEY"`
	Bucket    string `env:"ARCHIVE_BUCKET"`
	UseSSL    bool   `env:"ARCHIVE_USE_SSL"`
}

type NotifyConfig struct {
	SMSGatewayURL string `env:"SMS_GATEWAY_URL"`
	SMSSignName   string `env:"SMS_SIGN_NAME"`
	PushGateway   string `env:"PUSH_GATEWAY_URL"`
	DefaultLocale string `env:"DEFAULT_LOCALE"`
}

// config/config.go
type Config struct {
	DBDriver         string `env:"DB_DRIVER"`
	DSN              string `env:"DSN"`
	Log              logger.LogConfig
	Addr             string `env:"ADDR"`
	GRPCAddr         string `env:"GRPC_ADDR"`
	Mode             string `env:"MODE"`
	APIPrefix        string `env:"API_PREFIX"`
	MonitorPrefix    string `env:"MONITOR_PREFIX"`
	CacheBackend     string `env:"CACHE_BACKEND"` // memory | lru | redis
	RedisAddr        string `env:"REDIS_ADDR"`
	ActivateRate     string `env:"ACTIVATE_RATE"` // ulule 格式，如 "10-M"
	GeoIndexEnabled  bool   `env:"GEO_INDEX_ENABLED"`
	ConsoleSecret    string `env:"CONSOLE_SECRET"` // 医院控制台应答签名密钥，空则不校验
	Engine           EngineConfig
	Archive          ArchiveConfig
	Notify           NotifyConfig
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // 默认使用开发环境
	}
	err := util.LoadEnv(env)
	if err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 加载全局配置
	GlobalConfig = &Config{
		DBDriver:      util.GetEnvDefault("DB_DRIVER", "sqlite"),
		DSN:           util.GetEnvDefault("DSN", "file::memory:"),
		Addr:          util.GetEnvDefault("ADDR", ":8080"),
		GRPCAddr:      util.GetEnv("GRPC_ADDR"),
		Mode:          util.GetEnvDefault("MODE", "debug"),
		APIPrefix:     util.GetEnvDefault("API_PREFIX", "/api"),
		MonitorPrefix: util.GetEnvDefault("MONITOR_PREFIX", "/metrics"),
		CacheBackend:  util.GetEnvDefault("CACHE_BACKEND", "memory"),
		RedisAddr:     util.GetEnv("REDIS_ADDR"),
		ActivateRate:  util.GetEnvDefault("ACTIVATE_RATE", "30-M"),
		Log: logger.LogConfig{
			Level:      util.GetEnvDefault("LOG_LEVEL", "info"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		GeoIndexEnabled: util.GetBoolEnv("GEO_INDEX_ENABLED"),
		ConsoleSecret:   util.GetEnv("CONSOLE_SECRET"),
		Engine: EngineConfig{
			AvgSpeedKmh:         util.GetFloatEnv("AVG_SPEED_KMH", 40),
			MaxRadiusKm:         util.GetFloatEnv("MAX_RADIUS_KM", 0),
			MatchTimeout:        util.GetDurationEnv("MATCH_TIMEOUT", 5*time.Minute),
			MatchBackoffInitial: util.GetDurationEnv("MATCH_BACKOFF_INITIAL", 2*time.Second),
			MatchBackoffMax:     util.GetDurationEnv("MATCH_BACKOFF_MAX", 30*time.Second),
			ConfirmTimeout:      util.GetDurationEnv("CONFIRM_TIMEOUT", 60*time.Second),
			ReservationTimeout:  util.GetDurationEnv("RESERVATION_TIMEOUT", 20*time.Second),
			ReservationMode:     util.GetEnvDefault("RESERVATION_MODE", "console"),
			NotifyMaxAttempts:   int(util.GetIntEnv("NOTIFY_MAX_ATTEMPTS")),
			NotifyWorkers:       int(util.GetIntEnv("NOTIFY_WORKERS")),
			FixStaleness:        util.GetDurationEnv("FIX_STALENESS", 2*time.Minute),
			SessionRetention:    util.GetDurationEnv("SESSION_RETENTION", 30*24*time.Hour),
			ArchiveSchedule:     util.GetEnvDefault("ARCHIVE_SCHEDULE", "@every 10m"),
			HeartbeatMaxAge:     util.GetDurationEnv("HEARTBEAT_MAX_AGE", 0),
			ProbeInterval:       util.GetDurationEnv("PROBE_INTERVAL", 30*time.Second),
			FacilitySeed:        util.GetEnv("FACILITY_SEED"),
		},
		Archive: ArchiveConfig{
			Backend:   util.GetEnvDefault("ARCHIVE_BACKEND", "none"),
			Endpoint:  util.GetEnv("ARCHIVE_ENDPOINT"),
			AccessKey: util.GetEnv("ARCHIVE_ACCESS_KEY"),
			SecretKey: util.GetEnv("ARCHIVE_SECRET_KEY"),
			Bucket:    util.GetEnvDefault("ARCHIVE_BUCKET", "sos-archive"),
			UseSSL:    util.GetBoolEnv("ARCHIVE_USE_SSL"),
		},
		Notify: NotifyConfig{
			SMSGatewayURL: util.GetEnv("SMS_GATEWAY_URL"),
			SMSSignName:   util.GetEnvDefault("SMS_SIGN_NAME", "LifeSync"),
			PushGateway:   util.GetEnv("PUSH_GATEWAY_URL"),
			DefaultLocale: util.GetEnvDefault("DEFAULT_LOCALE", "en"),
		},
	}
	if GlobalConfig.Engine.NotifyMaxAttempts <= 0 {
		GlobalConfig.Engine.NotifyMaxAttempts = 5
	}
	if GlobalConfig.Engine.NotifyWorkers <= 0 {
		GlobalConfig.Engine.NotifyWorkers = 8
	}
	return nil
}
