package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	SecretKey      string        `mapstructure:"SECRET_KEY"`
	AccessTokenTTL time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	BcryptCost     int           `mapstructure:"BCRYPT_COST"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	MaxAudioSize   string        `mapstructure:"MAX_AUDIO_SIZE"`

	// AI providers
	GroqAPIKey     string        `mapstructure:"GROQ_API_KEY"`
	GroqBaseURL    string        `mapstructure:"GROQ_BASE_URL"`
	GroqModel      string        `mapstructure:"GROQ_MODEL"`
	DeepgramAPIKey string        `mapstructure:"DEEPGRAM_API_KEY"`
	DeepgramURL    string        `mapstructure:"DEEPGRAM_URL"`
	AITimeout      time.Duration `mapstructure:"AI_TIMEOUT"`
	AIMaxRetries   int           `mapstructure:"AI_MAX_RETRIES"`

	// Audio staging
	AudioStore    string `mapstructure:"AUDIO_STORE"`
	AudioStoreDir string `mapstructure:"AUDIO_STORE_DIR"`
	S3Bucket      string `mapstructure:"S3_BUCKET"`
	S3Region      string `mapstructure:"S3_REGION"`
	S3Endpoint    string `mapstructure:"S3_ENDPOINT"`
	S3AccessKey   string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey   string `mapstructure:"S3_SECRET_KEY"`
}

// envKeys are bound explicitly so Unmarshal picks them up without a config file.
var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SECRET_KEY", "ACCESS_TOKEN_TTL", "BCRYPT_COST", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT", "MAX_AUDIO_SIZE",
	"GROQ_API_KEY", "GROQ_BASE_URL", "GROQ_MODEL",
	"DEEPGRAM_API_KEY", "DEEPGRAM_URL", "AI_TIMEOUT", "AI_MAX_RETRIES",
	"AUDIO_STORE", "AUDIO_STORE_DIR",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("ACCESS_TOKEN_TTL", "60m")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	// exceeds the default AI retry budget (3 attempts of 60s plus backoff)
	v.SetDefault("REQUEST_TIMEOUT", "200s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("MAX_AUDIO_SIZE", "25M")
	v.SetDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1")
	v.SetDefault("GROQ_MODEL", "llama3-70b-8192")
	v.SetDefault("DEEPGRAM_URL", "https://api.deepgram.com/v1/listen")
	v.SetDefault("AI_TIMEOUT", "60s")
	v.SetDefault("AI_MAX_RETRIES", 2)
	v.SetDefault("AUDIO_STORE", "file")
	v.SetDefault("S3_REGION", "us-east-1")

	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A single comma-separated env value arrives as one element.
	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
	}

	return cfg, nil
}

// AIBudget is the longest a single AI gateway call can take with every
// retry used, excluding backoff.
func (c *Config) AIBudget() time.Duration {
	return c.AITimeout * time.Duration(c.AIMaxRetries+1)
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// minProductionSecretLen is the shortest SECRET_KEY accepted in production (256 bits).
const minProductionSecretLen = 32

// Validate checks that every secret the server depends on is present. The
// process must refuse to start rather than fall back to a built-in default.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}
	if c.IsProduction() && len(c.SecretKey) < minProductionSecretLen {
		return fmt.Errorf("SECRET_KEY must be at least %d bytes in production, got %d", minProductionSecretLen, len(c.SecretKey))
	}
	if c.GroqAPIKey == "" {
		return fmt.Errorf("GROQ_API_KEY is required")
	}
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive, got %s", c.AccessTokenTTL)
	}

	switch c.AudioStore {
	case "file":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when AUDIO_STORE is \"s3\"")
		}
	default:
		return fmt.Errorf("AUDIO_STORE must be \"file\" or \"s3\", got %q", c.AudioStore)
	}

	return nil
}
