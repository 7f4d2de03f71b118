package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Dispatch modes for handing created jobs to the pipeline.
const (
	DispatchLocal = "local" // in-process bounded pool
	DispatchRedis = "redis" // Redis list consumed by cmd/worker
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Pipeline PipelineConfig
	Tools    ToolsConfig
	LLM      LLMConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	FrontendURL        string // base for share links
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the artifacts bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArtifactsBucket      string
	Endpoint             string // S3-compatible endpoint (MinIO, LocalStack); empty for AWS
	PresignExpireMinutes int
}

// PipelineConfig controls orchestration of jobs.
type PipelineConfig struct {
	TempDir                 string
	EnableScriptImprovement bool
	DispatchMode            string
	MaxConcurrentJobs       int
	QueueCapacity           int
	ScriptBatchSize         int
	ShutdownGrace           time.Duration
}

// ToolsConfig locates the external binaries the stage workers spawn.
type ToolsConfig struct {
	FFmpegPath     string
	FFprobePath    string
	WhisperCommand string   // interpreter, e.g. python3
	WhisperArgs    []string // interpreter flags placed before the script
	WhisperScript  string
	WhisperModel   string
	PiperPath      string
	PiperDir       string // working directory for piper (shared libraries live next to it)
	PiperModel     string // .onnx voice model path
	PiperVoiceName string
	VoiceLanguage  string
}

// LLMConfig holds the Ollama endpoint settings.
type LLMConfig struct {
	OllamaURL string
	Model     string
	Timeout   time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (DATABASE_URL), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 60),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "clueso"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArtifactsBucket:      getEnv("AWS_S3_BUCKET_NAME", "clueso-artifacts"),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Pipeline: PipelineConfig{
			TempDir:                 getEnv("PIPELINE_TEMP_DIR", ""),
			EnableScriptImprovement: getEnvBool("ENABLE_SCRIPT_IMPROVEMENT", true),
			DispatchMode:            strings.ToLower(getEnv("PIPELINE_DISPATCH", DispatchLocal)),
			MaxConcurrentJobs:       getEnvInt("PIPELINE_MAX_CONCURRENT_JOBS", runtime.NumCPU()),
			QueueCapacity:           getEnvInt("PIPELINE_QUEUE_CAPACITY", 100),
			ScriptBatchSize:         getEnvInt("SCRIPT_BATCH_SIZE", 8),
			ShutdownGrace:           getEnvDuration("PIPELINE_SHUTDOWN_GRACE", 30*time.Second),
		},
		Tools: ToolsConfig{
			FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:    getEnv("FFPROBE_PATH", "ffprobe"),
			WhisperCommand: getEnv("WHISPER_COMMAND", "python3"),
			WhisperArgs:    splitTrim(getEnv("WHISPER_ARGS", ""), " "),
			WhisperScript:  getEnv("WHISPER_SCRIPT", "scripts/whisper_transcribe.py"),
			WhisperModel:   getEnv("WHISPER_MODEL", "base"),
			PiperPath:      getEnv("PIPER_PATH", "./piper"),
			PiperDir:       getEnv("PIPER_DIR", "tools/piper"),
			PiperModel:     getEnv("PIPER_MODEL", "tools/piper/models/en_US-lessac-medium.onnx"),
			PiperVoiceName: getEnv("PIPER_VOICE_NAME", "en_US-lessac-medium"),
			VoiceLanguage:  getEnv("VOICE_LANGUAGE", "en-US"),
		},
		LLM: LLMConfig{
			OllamaURL: getEnv("OLLAMA_URL", "http://localhost:11434"),
			Model:     getEnv("OLLAMA_MODEL", "llama3"),
			Timeout:   getEnvDuration("OLLAMA_TIMEOUT", 2*time.Minute),
		},
	}
	if cfg.Pipeline.TempDir == "" {
		cfg.Pipeline.TempDir = os.TempDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.MaxConcurrentJobs < 1 {
		errs = append(errs, errors.New("PIPELINE_MAX_CONCURRENT_JOBS must be at least 1"))
	}
	if c.Pipeline.QueueCapacity < 1 {
		errs = append(errs, errors.New("PIPELINE_QUEUE_CAPACITY must be at least 1"))
	}
	if c.Pipeline.ScriptBatchSize < 1 {
		errs = append(errs, errors.New("SCRIPT_BATCH_SIZE must be at least 1"))
	}
	switch c.Pipeline.DispatchMode {
	case DispatchLocal, DispatchRedis:
	default:
		errs = append(errs, fmt.Errorf("PIPELINE_DISPATCH must be %q or %q, got %q", DispatchLocal, DispatchRedis, c.Pipeline.DispatchMode))
	}
	if c.AWS.ArtifactsBucket == "" {
		errs = append(errs, errors.New("AWS_S3_BUCKET_NAME is required"))
	}
	return errors.Join(errs...)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
