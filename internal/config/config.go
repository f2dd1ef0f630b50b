package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Portal
	PortalBaseURL     string
	LocationID        string
	PortalTimeout     time.Duration
	PortalMaxBodySize int64
	PortalRatePerMin  int

	// Lookup identity（onceサブコマンド用）
	LookupFirstName string
	LookupLastName  string
	LookupBirthdate string // 2006-01-02 形式
	LookupEmail     string
	LookupPhone     string

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.PortalBaseURL = os.Getenv("PORTAL_BASE_URL")
	if cfg.PortalBaseURL == "" {
		missing = append(missing, "PORTAL_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.LocationID = getEnvString("LOCATION_ID", "")
	cfg.PortalTimeout = getEnvDuration("PORTAL_TIMEOUT", 15*time.Second)
	cfg.PortalMaxBodySize = getEnvInt64("PORTAL_MAX_BODY", 5242880)
	cfg.PortalRatePerMin = getEnvInt("PORTAL_RATE_PER_MIN", 30)
	cfg.LookupFirstName = getEnvString("LOOKUP_FIRST_NAME", "")
	cfg.LookupLastName = getEnvString("LOOKUP_LAST_NAME", "")
	cfg.LookupBirthdate = getEnvString("LOOKUP_BIRTHDATE", "")
	cfg.LookupEmail = getEnvString("LOOKUP_EMAIL", "")
	cfg.LookupPhone = getEnvString("LOOKUP_PHONE", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
