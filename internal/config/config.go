// Package config loads server configuration.
//
// LOAD ORDER (later wins):
//  1. Defaults (Default)
//  2. .env in the working directory, if present (godotenv)
//  3. YAML file at the given path or CONFIG_PATH, if present
//  4. Environment variables
//
// Every field can be set by YAML or env, so local development usually needs
// nothing more than a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	SiteURL   string `yaml:"siteURL"`

	DBDriver    string `yaml:"dbDriver"`
	DatabaseURL string `yaml:"databaseURL"`

	JWTSecret      string        `yaml:"jwtSecret"`
	AccessTokenTTL time.Duration `yaml:"accessTokenTTL"`

	GoogleClientID     string `yaml:"googleClientID"`
	GoogleClientSecret string `yaml:"googleClientSecret"`

	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
	Speech  SpeechConfig  `yaml:"speech"`
	OCR     OCRConfig     `yaml:"ocr"`

	PDFExtractURL string `yaml:"pdfExtractURL"`

	RedisAddr          string `yaml:"redisAddr"`
	RedisPassword      string `yaml:"redisPassword"`
	RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`

	ProcessQueueSize int `yaml:"processQueueSize"`

	// ExtractConcurrency is how many files are extracted at once across
	// background processing and summary generation.
	ExtractConcurrency int `yaml:"extractConcurrency"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Backend   string `yaml:"backend"` // minio | s3 | memory
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
	PublicURL string `yaml:"publicURL"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"` // openai | gemini
	BaseURL  string `yaml:"baseURL"` // empty selects the provider default
	APIKey   string `yaml:"apiKey"`
	Model    string `yaml:"model"`
	Referer  string `yaml:"referer"`
}

type SpeechConfig struct {
	APIKey  string `yaml:"apiKey"`
	VoiceID string `yaml:"voiceID"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseURL"`
}

type OCRConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Image    string        `yaml:"image"`
	PoolSize int           `yaml:"poolSize"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns a configuration suitable for local development.
func Default() Config {
	return Config{
		Port:           8080,
		LogLevel:       "info",
		LogFormat:      "text",
		SiteURL:        "http://localhost:3000",
		DBDriver:       "sqlite",
		DatabaseURL:    "inforx.db",
		AccessTokenTTL: 24 * time.Hour,
		Storage: StorageConfig{
			Backend:  "minio",
			Endpoint: "localhost:9000",
			Bucket:   "medical-files",
			Region:   "us-east-1",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "deepseek/deepseek-chat",
		},
		Speech: SpeechConfig{
			VoiceID: "21m00Tcm4TlvDq8ikWAM",
			Model:   "eleven_multilingual_v2",
			BaseURL: "https://api.elevenlabs.io",
		},
		OCR: OCRConfig{
			Image:    "jitesoft/tesseract-ocr:latest",
			PoolSize: 1,
			Timeout:  60 * time.Second,
		},
		RateLimitPerMinute: 20,
		ProcessQueueSize:   64,
		ExtractConcurrency: 1,
	}
}

// Load builds the configuration. An empty path falls back to CONFIG_PATH; a
// missing YAML file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.PDFExtractURL == "" {
		cfg.PDFExtractURL = fmt.Sprintf("http://localhost:%d/api/extract-pdf", cfg.Port)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setInt(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.SiteURL, "SITE_URL")

	setString(&cfg.DBDriver, "DB_DRIVER")
	setString(&cfg.DatabaseURL, "DATABASE_URL")

	setString(&cfg.JWTSecret, "JWT_SECRET")
	setDuration(&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL")

	setString(&cfg.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")

	setString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setString(&cfg.Storage.Endpoint, "STORAGE_ENDPOINT")
	setString(&cfg.Storage.AccessKey, "STORAGE_ACCESS_KEY")
	setString(&cfg.Storage.SecretKey, "STORAGE_SECRET_KEY")
	setString(&cfg.Storage.Bucket, "STORAGE_BUCKET")
	setString(&cfg.Storage.Region, "STORAGE_REGION")
	setBool(&cfg.Storage.UseSSL, "STORAGE_USE_SSL")
	setString(&cfg.Storage.PublicURL, "STORAGE_PUBLIC_URL")

	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.Referer, "LLM_REFERER")

	setString(&cfg.Speech.APIKey, "ELEVENLABS_API_KEY")
	setString(&cfg.Speech.VoiceID, "ELEVENLABS_VOICE_ID")
	setString(&cfg.Speech.Model, "ELEVENLABS_MODEL")

	setString(&cfg.PDFExtractURL, "PDF_EXTRACT_URL")

	setBool(&cfg.OCR.Enabled, "OCR_ENABLED")
	setString(&cfg.OCR.Image, "OCR_IMAGE")
	setInt(&cfg.OCR.PoolSize, "OCR_POOL_SIZE")
	setDuration(&cfg.OCR.Timeout, "OCR_TIMEOUT")

	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setInt(&cfg.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE")

	setInt(&cfg.ProcessQueueSize, "PROCESS_QUEUE_SIZE")
	setInt(&cfg.ExtractConcurrency, "EXTRACT_CONCURRENCY")
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q (want sqlite or postgres)", c.DBDriver)
	}
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL is required")
	}
	switch c.Storage.Backend {
	case "minio", "s3", "memory":
	default:
		return fmt.Errorf("config: unknown STORAGE_BACKEND %q (want minio, s3 or memory)", c.Storage.Backend)
	}
	if c.Storage.Bucket == "" {
		return errors.New("config: STORAGE_BUCKET is required")
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q (want openai or gemini)", c.LLM.Provider)
	}
	if c.ProcessQueueSize <= 0 {
		return errors.New("config: PROCESS_QUEUE_SIZE must be positive")
	}
	return nil
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
