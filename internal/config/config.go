package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	CredStoreDir          string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	VerifyCodeTTLMinutes  int
	VerifyMaxAttempts     int
	VerifyWindowHours     int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Validate 启动前的配置检查，生产环境必须换掉默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: database dsn is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("config: default jwt secret outside dev")
	}
	if cfg.VerifyMaxAttempts <= 0 {
		return errors.New("config: verify max attempts must be positive")
	}
	return nil
}

func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=ulleong port=5432 sslmode=disable TimeZone=UTC"),
		CredStoreDir:          getenv("CRED_STORE_DIR", "./data/credstore"),
		JWTSecret:             getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 60),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		VerifyCodeTTLMinutes:  getenvInt("VERIFY_CODE_TTL_MINUTES", 10),
		VerifyMaxAttempts:     getenvInt("VERIFY_MAX_ATTEMPTS", 10),
		VerifyWindowHours:     getenvInt("VERIFY_WINDOW_HOURS", 24),
	}
}
