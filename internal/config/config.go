package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultJWTSecret = "dev-secret-change-me"
	defaultAdminPass = "admin123"
)

type Config struct {
	Port                  string
	Env                   string
	LogLevel              string
	DatabaseDriver        string
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int
	StoreTimeout          time.Duration
	RedisURL              string
	RedisChannel          string
	AdminUser             string
	AdminPass             string
	AdminName             string
	UploadDir             string
	MaxUploadMB           int
	WSEventsPerSecond     int
	CORSOrigins           []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 读取正整数配置，非法值或非正数回退为默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// getenvList 读取逗号分隔的列表，忽略空项。
func getenvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		Env:                   getenv("APP_ENV", "dev"),
		LogLevel:              os.Getenv("LOG_LEVEL"),
		DatabaseDriver:        getenv("DB_DRIVER", "postgres"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 60),
		StoreTimeout:          time.Duration(getenvInt("STORE_TIMEOUT_MS", 5000)) * time.Millisecond,
		RedisURL:              os.Getenv("REDIS_URL"),
		RedisChannel:          getenv("REDIS_CHANNEL", "chat:events"),
		AdminUser:             getenv("ADMIN_USER", "admin"),
		AdminPass:             getenv("ADMIN_PASS", defaultAdminPass),
		AdminName:             getenv("ADMIN_NAME", "Administrator"),
		UploadDir:             getenv("UPLOAD_DIR", "uploads"),
		MaxUploadMB:           getenvInt("MAX_UPLOAD_MB", 20),
		WSEventsPerSecond:     getenvInt("WS_EVENTS_PER_SECOND", 20),
		CORSOrigins:           getenvList("CORS_ORIGINS"),
	}
}

// Validate 在启动前拒绝明显错误的配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "mysql":
		if cfg.DatabaseDSN == "" {
			return errors.New("config: DATABASE_DSN is empty")
		}
	case "memory":
	default:
		return errors.New("config: unsupported DB_DRIVER " + strconv.Quote(cfg.DatabaseDriver))
	}
	if cfg.Env != "dev" && (cfg.JWTSecret == "" || cfg.JWTSecret == defaultJWTSecret) {
		return errors.New("config: JWT_SECRET must be set outside dev")
	}
	// 种子管理员在非 dev 环境不能沿用默认口令。
	if cfg.Env != "dev" && (cfg.AdminPass == "" || cfg.AdminPass == defaultAdminPass) {
		return errors.New("config: ADMIN_PASS must be set outside dev")
	}
	return nil
}
