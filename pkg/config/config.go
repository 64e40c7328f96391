package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Fan-out drivers understood by the realtime gateway.
const (
	FanoutLocal = "local"
	FanoutRedis = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Chat        ChatConfig
	Transcripts TranscriptsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ChatConfig tunes the realtime gateway and its websocket transport.
type ChatConfig struct {
	Fanout           string
	ChannelPrefix    string
	WriteWait        time.Duration
	PongWait         time.Duration
	PingInterval     time.Duration
	MaxFrameBytes    int64
	SendBuffer       int
	MaxMessageLength int
	OperationTimeout time.Duration
	PresenceTTL      time.Duration
}

// TranscriptsConfig configures asynchronous chat transcript exports.
type TranscriptsConfig struct {
	Enabled           bool
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupInterval   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	pongWait := parseDuration(v.GetString("CHAT_PONG_WAIT"), 60*time.Second)
	pingInterval := parseDuration(v.GetString("CHAT_PING_INTERVAL"), 0)
	if pingInterval <= 0 || pingInterval >= pongWait {
		pingInterval = pongWait * 9 / 10
	}
	cfg.Chat = ChatConfig{
		Fanout:           normalizeFanout(v.GetString("CHAT_FANOUT")),
		ChannelPrefix:    v.GetString("CHAT_CHANNEL_PREFIX"),
		WriteWait:        parseDuration(v.GetString("CHAT_WRITE_WAIT"), 10*time.Second),
		PongWait:         pongWait,
		PingInterval:     pingInterval,
		MaxFrameBytes:    positiveInt64(v.GetInt64("CHAT_MAX_FRAME_BYTES"), 8*1024),
		SendBuffer:       positiveInt(v.GetInt("CHAT_SEND_BUFFER"), 256),
		MaxMessageLength: positiveInt(v.GetInt("CHAT_MAX_MESSAGE_LENGTH"), 2000),
		OperationTimeout: parseDuration(v.GetString("CHAT_OPERATION_TIMEOUT"), 5*time.Second),
		PresenceTTL:      parseDuration(v.GetString("CHAT_PRESENCE_TTL"), 2*time.Minute),
	}

	cfg.Transcripts = TranscriptsConfig{
		Enabled:           v.GetBool("ENABLE_TRANSCRIPTS"),
		StorageDir:        v.GetString("TRANSCRIPTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("TRANSCRIPTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("TRANSCRIPTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval:   parseDuration(v.GetString("TRANSCRIPTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerConcurrency: positiveInt(v.GetInt("TRANSCRIPTS_WORKER_CONCURRENCY"), 1),
		WorkerRetries:     v.GetInt("TRANSCRIPTS_WORKER_RETRIES"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "classlinker")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CHAT_FANOUT", FanoutLocal)
	v.SetDefault("CHAT_CHANNEL_PREFIX", "classlinker:chat")
	v.SetDefault("CHAT_WRITE_WAIT", "10s")
	v.SetDefault("CHAT_PONG_WAIT", "60s")
	v.SetDefault("CHAT_PING_INTERVAL", "54s")
	v.SetDefault("CHAT_MAX_FRAME_BYTES", 8*1024)
	v.SetDefault("CHAT_SEND_BUFFER", 256)
	v.SetDefault("CHAT_MAX_MESSAGE_LENGTH", 2000)
	v.SetDefault("CHAT_OPERATION_TIMEOUT", "5s")
	v.SetDefault("CHAT_PRESENCE_TTL", "2m")

	v.SetDefault("ENABLE_TRANSCRIPTS", false)
	v.SetDefault("TRANSCRIPTS_STORAGE_DIR", "./transcripts")
	v.SetDefault("TRANSCRIPTS_SIGNED_URL_SECRET", "dev_transcripts_secret")
	v.SetDefault("TRANSCRIPTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("TRANSCRIPTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("TRANSCRIPTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("TRANSCRIPTS_WORKER_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func positiveInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func positiveInt64(value, fallback int64) int64 {
	if value <= 0 {
		return fallback
	}
	return value
}

func normalizeFanout(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case FanoutRedis:
		return FanoutRedis
	default:
		return FanoutLocal
	}
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
