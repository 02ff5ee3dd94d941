package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken      string           `yaml:"discord_token"`
	DatabasePath      string           `yaml:"database_path"`
	LogLevel          string           `yaml:"log_level"`
	DefaultLogChannel string           `yaml:"default_log_channel"`
	Ops               OpsConfig        `yaml:"ops"`
	Moderation        ModerationConfig `yaml:"moderation"`
	Tickets           TicketConfig     `yaml:"tickets"`
	EmbedColors       EmbedColors      `yaml:"embed_colors"`
}

type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ModerationConfig carries the spam and escalation thresholds. These are
// per-deployment; per-guild state is limited to the word/link lists and
// channel wiring kept in storage.
type ModerationConfig struct {
	SpamWindowSeconds   int    `yaml:"spam_window_seconds"`
	SpamCountThreshold  int    `yaml:"spam_count_threshold"`
	RepetitionThreshold int    `yaml:"repetition_threshold"`
	MaxWarnings         int    `yaml:"max_warnings"`
	MuteDurationSeconds int    `yaml:"mute_duration_seconds"`
	MuteRoleName        string `yaml:"mute_role_name"`
}

type TicketConfig struct {
	ChannelPrefix     string `yaml:"channel_prefix"`
	CloseDelaySeconds int    `yaml:"close_delay_seconds"`
}

type EmbedColors struct {
	Warning int `yaml:"warning"`
	Mute    int `yaml:"mute"`
	Unmute  int `yaml:"unmute"`
	Error   int `yaml:"error"`
	Info    int `yaml:"info"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:      "/data/guardia.db",
		LogLevel:          "info",
		DefaultLogChannel: "",
		Ops:               OpsConfig{Enabled: false, Addr: ":8080"},
		Moderation: ModerationConfig{
			SpamWindowSeconds:   5,
			SpamCountThreshold:  5,
			RepetitionThreshold: 3,
			MaxWarnings:         3,
			MuteDurationSeconds: 600,
			MuteRoleName:        "Muted",
		},
		Tickets: TicketConfig{
			ChannelPrefix:     "ticket-",
			CloseDelaySeconds: 5,
		},
		EmbedColors: EmbedColors{
			Warning: 0xF1C40F,
			Mute:    0x95A5A6,
			Unmute:  0x2ECC71,
			Error:   0xE74C3C,
			Info:    0x3498DB,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.Moderation.MuteRoleName == "" {
		cfg.Moderation.MuteRoleName = "Muted"
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultLogChannel = envString("DEFAULT_LOG_CHANNEL", cfg.DefaultLogChannel)
	cfg.Ops.Enabled = envBool("OPS_ENABLED", cfg.Ops.Enabled)
	cfg.Ops.Addr = envString("OPS_ADDR", cfg.Ops.Addr)
	cfg.Moderation.SpamWindowSeconds = envInt("SPAM_WINDOW_SECONDS", cfg.Moderation.SpamWindowSeconds)
	cfg.Moderation.SpamCountThreshold = envInt("SPAM_COUNT_THRESHOLD", cfg.Moderation.SpamCountThreshold)
	cfg.Moderation.RepetitionThreshold = envInt("SPAM_REPETITION_THRESHOLD", cfg.Moderation.RepetitionThreshold)
	cfg.Moderation.MaxWarnings = envInt("MAX_WARNINGS", cfg.Moderation.MaxWarnings)
	cfg.Moderation.MuteDurationSeconds = envInt("MUTE_DURATION_SECONDS", cfg.Moderation.MuteDurationSeconds)
	cfg.Moderation.MuteRoleName = envString("MUTE_ROLE_NAME", cfg.Moderation.MuteRoleName)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
