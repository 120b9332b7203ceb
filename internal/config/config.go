// Package config は環境変数と設定ファイルからアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity
	JWTSecret string

	// Server
	ServerPort        string `validate:"numeric"`
	CORSAllowedOrigin string

	// Rate Limit
	RateLimitGeneral int `validate:"min=1"`
	RateLimitClaim   int `validate:"min=1"`

	// Oracle
	OracleAPIKey  string
	OracleBaseURL string        `validate:"url"`
	OracleModel   string        `validate:"required"`
	OracleTimeout time.Duration `validate:"gt=0"`
	OracleRPM     int           `validate:"min=1"`

	// Matching
	MatchPacing         time.Duration `validate:"gte=0"`
	MatchCandidateLimit int           `validate:"min=1,max=100"`

	// Storage
	StorageEndpoint  string
	StorageBucket    string
	StorageAccessKey string
	StorageSecretKey string
	StorageRegion    string
	StoragePublicURL string `validate:"omitempty,url"`
	ImageCacheDir    string `validate:"required"`

	// Notifications
	FCMProjectID       string
	FCMCredentialsFile string
	NotifyTimeout      time.Duration `validate:"gt=0"`

	// Logging
	LogLevel string
}

var validate = validator.New()

// fileConfig はCONFIG_FILEで指定するTOMLファイルの構造。
// 指定された値は既定値を置き換え、環境変数がさらにそれを上書きする。
type fileConfig struct {
	Oracle struct {
		BaseURL           string `toml:"base_url"`
		Model             string `toml:"model"`
		Timeout           string `toml:"timeout"`
		RequestsPerMinute int    `toml:"requests_per_minute"`
	} `toml:"oracle"`
	Matching struct {
		Pacing         string `toml:"pacing"`
		CandidateLimit int    `toml:"candidate_limit"`
	} `toml:"matching"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	defaults := fileConfig{}
	defaults.Oracle.BaseURL = "https://api.openai.com/v1/chat/completions"
	defaults.Oracle.Model = "gpt-4o-mini"
	defaults.Oracle.Timeout = "20s"
	defaults.Oracle.RequestsPerMinute = 20
	defaults.Matching.Pacing = "1s"
	defaults.Matching.CandidateLimit = 20

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &defaults); err != nil {
			return nil, err
		}
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitClaim = getEnvInt("RATE_LIMIT_CLAIM", 10)

	cfg.OracleAPIKey = getEnvString("ORACLE_API_KEY", "")
	cfg.OracleBaseURL = getEnvString("ORACLE_BASE_URL", defaults.Oracle.BaseURL)
	cfg.OracleModel = getEnvString("ORACLE_MODEL", defaults.Oracle.Model)
	cfg.OracleTimeout = getEnvDuration("ORACLE_TIMEOUT", parseDurationOr(defaults.Oracle.Timeout, 20*time.Second))
	cfg.OracleRPM = getEnvInt("ORACLE_RPM", defaults.Oracle.RequestsPerMinute)

	cfg.MatchPacing = getEnvDuration("MATCH_PACING", parseDurationOr(defaults.Matching.Pacing, time.Second))
	cfg.MatchCandidateLimit = getEnvInt("MATCH_CANDIDATE_LIMIT", defaults.Matching.CandidateLimit)

	cfg.StorageEndpoint = getEnvString("STORAGE_ENDPOINT", "")
	cfg.StorageBucket = getEnvString("STORAGE_BUCKET", "")
	cfg.StorageAccessKey = getEnvString("STORAGE_ACCESS_KEY", "")
	cfg.StorageSecretKey = getEnvString("STORAGE_SECRET_KEY", "")
	cfg.StorageRegion = getEnvString("STORAGE_REGION", "auto")
	cfg.StoragePublicURL = getEnvString("STORAGE_PUBLIC_URL", "")
	cfg.ImageCacheDir = getEnvString("IMAGE_CACHE_DIR", "uploads")

	cfg.FCMProjectID = getEnvString("FCM_PROJECT_ID", "")
	cfg.FCMCredentialsFile = getEnvString("FCM_CREDENTIALS_FILE", "")
	cfg.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second)

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// StorageEnabled はオブジェクトストレージの設定が揃っているかを返す。
func (c *Config) StorageEnabled() bool {
	return c.StorageBucket != "" && c.StorageAccessKey != "" && c.StorageSecretKey != ""
}

// NotificationsEnabled はプッシュ通知の設定が揃っているかを返す。
func (c *Config) NotificationsEnabled() bool {
	return c.FCMProjectID != "" && c.FCMCredentialsFile != ""
}

func loadFile(path string, dst *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func parseDurationOr(v string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
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
