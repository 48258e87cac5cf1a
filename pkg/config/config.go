package config

import (
	"log"
	"os"
	"time"

	"ResQFlow/pkg/cache"
	"ResQFlow/pkg/logger"
	"ResQFlow/pkg/storage"
	"ResQFlow/pkg/util"
)

// config/config.go
type Config struct {
	DBDriver       string        `env:"DB_DRIVER"`
	DSN            string        `env:"DSN"`
	Log            logger.LogConfig
	Addr           string        `env:"ADDR"`
	Mode           string        `env:"MODE"`
	APIPrefix      string        `env:"API_PREFIX"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
	CORSOrigins    []string      `env:"CORS_ORIGINS"`
	DefaultLang    string        `env:"DEFAULT_LANG"`
	APISecretKey   string        `env:"API_SECRET_KEY"`
	GeoIPDB        string        `env:"GEOIP_DB"`
	Timezone       string        `env:"TIMEZONE"` // schedules and archive day boundaries

	SOSRateWindow  time.Duration `env:"SOS_RATE_WINDOW"`
	SOSRateMax     int           `env:"SOS_RATE_MAX"`
	RateLimitStore string        `env:"RATE_LIMIT_STORE"` // memory | redis
	HTTPRate       string        `env:"HTTP_RATE"`        // ulule format, e.g. "300-M"

	Cache cache.Config

	EscalationSchedule       string        `env:"ESCALATION_SCHEDULE"`
	ReservationSweepSchedule string        `env:"RESERVATION_SWEEP_SCHEDULE"`
	ReservationTTL           time.Duration `env:"RESERVATION_TTL"`
	ArchiveEnabled           bool          `env:"ARCHIVE_ENABLED"`
	ArchiveSchedule          string        `env:"ARCHIVE_SCHEDULE"`
	ArchivePath              string        `env:"ARCHIVE_PATH"` // used when MINIO_ENDPOINT is empty
	Minio                    storage.MinioConfig

	SearchEnabled bool   `env:"SEARCH_ENABLED"`
	SearchPath    string `env:"SEARCH_PATH"`
}

var GlobalConfig *Config

func Load() (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	cfg := &Config{
		DBDriver: util.GetEnv("DB_DRIVER"),
		DSN:      util.GetEnv("DSN"),
		Log: logger.LogConfig{
			Level:      util.GetEnvDefault("LOG_LEVEL", "info"),
			Format:     util.GetEnvDefault("LOG_FORMAT", "json"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		Addr:           util.GetEnvDefault("ADDR", ":8080"),
		Mode:           util.GetEnvDefault("MODE", "release"),
		APIPrefix:      util.GetEnvDefault("API_PREFIX", "/api"),
		RequestTimeout: util.GetDurationEnv("REQUEST_TIMEOUT", 10*time.Second),
		CORSOrigins:    util.GetListEnv("CORS_ORIGINS"),
		DefaultLang:    util.GetEnvDefault("DEFAULT_LANG", "en"),
		APISecretKey:   util.GetEnv("API_SECRET_KEY"),
		GeoIPDB:        util.GetEnv("GEOIP_DB"),
		Timezone:       util.GetEnvDefault("TIMEZONE", "Asia/Karachi"),

		SOSRateWindow:  util.GetDurationEnv("SOS_RATE_WINDOW", time.Hour),
		SOSRateMax:     int(util.GetIntEnvDefault("SOS_RATE_MAX", 3)),
		RateLimitStore: util.GetEnvDefault("RATE_LIMIT_STORE", "memory"),
		HTTPRate:       util.GetEnvDefault("HTTP_RATE", "300-M"),

		Cache: cache.Config{
			Type: util.GetEnvDefault("CACHE_TYPE", "gocache"),
			Redis: cache.RedisConfig{
				Addr:         util.GetEnvDefault("REDIS_ADDR", "localhost:6379"),
				Password:     util.GetEnv("REDIS_PASSWORD"),
				DB:           int(util.GetIntEnv("REDIS_DB")),
				PoolSize:     int(util.GetIntEnvDefault("REDIS_POOL_SIZE", 10)),
				MinIdleConns: int(util.GetIntEnvDefault("REDIS_MIN_IDLE_CONNS", 2)),
				DialTimeout:  util.GetDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
				ReadTimeout:  util.GetDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
				WriteTimeout: util.GetDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
			},
			Local: cache.LocalConfig{
				MaxSize:           int(util.GetIntEnvDefault("LOCAL_CACHE_MAX_SIZE", 1000)),
				DefaultExpiration: util.GetDurationEnv("LOCAL_CACHE_DEFAULT_EXPIRATION", 30*time.Second),
				CleanupInterval:   util.GetDurationEnv("LOCAL_CACHE_CLEANUP_INTERVAL", 5*time.Minute),
			},
		},

		EscalationSchedule:       util.GetEnvDefault("ESCALATION_SCHEDULE", "0 */6 * * *"),
		ReservationSweepSchedule: util.GetEnvDefault("RESERVATION_SWEEP_SCHEDULE", "*/5 * * * *"),
		ReservationTTL:           util.GetDurationEnv("RESERVATION_TTL", 15*time.Minute),
		ArchiveEnabled:           util.GetBoolEnv("ARCHIVE_ENABLED"),
		ArchiveSchedule:          util.GetEnvDefault("ARCHIVE_SCHEDULE", "30 2 * * *"),
		ArchivePath:              util.GetEnvDefault("ARCHIVE_PATH", "./backups"),
		Minio: storage.MinioConfig{
			Endpoint:  util.GetEnv("MINIO_ENDPOINT"),
			AccessKey: util.GetEnv("MINIO_ACCESS_KEY"),
			SecretKey: util.GetEnv("MINIO_SECRET_KEY"),
			Bucket:    util.GetEnvDefault("MINIO_BUCKET", "resqflow-audit"),
			UseSSL:    util.GetBoolEnv("MINIO_USE_SSL"),
		},

		SearchEnabled: util.GetBoolEnv("SEARCH_ENABLED"),
		SearchPath:    util.GetEnv("SEARCH_PATH"),
	}
	GlobalConfig = cfg
	return cfg, nil
}

// Location resolves Timezone, falling back to UTC when the zone database lacks it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("unknown timezone %q, using UTC", c.Timezone)
		return time.UTC
	}
	return loc
}
