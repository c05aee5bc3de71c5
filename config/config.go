package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	// 服务
	ServerAddr string
	JWTSecret  string

	// 目录
	UploadDir      string // Base directory for all uploads
	AudioUploadDir string // Subdirectory for source audio: UploadDir/audio
	OutputDir      string // Final adjusted recordings
	WorkDir        string // Parent of per-job temporary directories

	// 外部工具
	FFmpegPath     string
	RubberbandPath string
	StretchEngine  string // "rubberband" or "atempo"
	AudioBitrate   string // e.g., "192k"

	// 转写服务
	TranscribeURL          string
	TranscribeAPIKey       string
	TranscribePollInterval time.Duration
	TranscribeMaxPolls     int

	// 配额
	AnalysisDailyLimit   int
	AdjustmentDailyLimit int
	UnlimitedRoles       []string

	// Worker
	AnalysisConcurrency   int
	AdjustmentConcurrency int

	// 调速
	WPMTolerance     float64
	StretchMinFactor float64
	StretchMaxFactor float64

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置，Endpoint 为空时不归档
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// 日志
	LogLevel string
	LogFile  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env files.
func FromEnv() *Config {
	uploadBase := getEnv("UPLOAD_DIR", "uploads")

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		JWTSecret:  getEnv("JWT_SECRET", ""),

		UploadDir:      uploadBase,
		AudioUploadDir: filepath.Join(uploadBase, "audio"),
		OutputDir:      getEnv("OUTPUT_DIR", "outputs"),
		WorkDir:        getEnv("WORK_DIR", os.TempDir()),

		FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
		RubberbandPath: getEnv("RUBBERBAND_PATH", "rubberband"),
		StretchEngine:  getEnv("STRETCH_ENGINE", "rubberband"),
		AudioBitrate:   getEnv("AUDIO_BITRATE", "192k"),

		TranscribeURL:          getEnv("TRANSCRIBE_URL", "https://api.assemblyai.com"),
		TranscribeAPIKey:       os.Getenv("TRANSCRIBE_API_KEY"),
		TranscribePollInterval: getEnvDuration("TRANSCRIBE_POLL_INTERVAL", 3*time.Second),
		TranscribeMaxPolls:     getEnvInt("TRANSCRIBE_MAX_POLLS", 200),

		AnalysisDailyLimit:   getEnvInt("QUOTA_ANALYSIS_DAILY", 3),
		AdjustmentDailyLimit: getEnvInt("QUOTA_ADJUSTMENT_DAILY", 10),
		UnlimitedRoles:       getEnvList("UNLIMITED_ROLES", []string{"pro", "admin"}),

		AnalysisConcurrency:   getEnvInt("ANALYSIS_CONCURRENCY", 2),
		AdjustmentConcurrency: getEnvInt("ADJUSTMENT_CONCURRENCY", 2),

		WPMTolerance:     getEnvFloat("WPM_TOLERANCE", 1.0),
		StretchMinFactor: getEnvFloat("STRETCH_MIN_FACTOR", 0.5),
		StretchMaxFactor: getEnvFloat("STRETCH_MAX_FACTOR", 2.0),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),     // 默认使用0号数据库

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "paceshift"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
