package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DiscordToken   string
	GuildID        string
	AlertChannelID string
	LogChannelID   string
	HTTPPort       int

	WordlistPath  string
	WordlistWatch bool

	RecordingsDir string
	ProcessingDir string

	FFmpegPath        string
	WhisperPath       string
	WhisperModel      string
	Language          string
	Silence           time.Duration
	TranscribeTimeout time.Duration
}

// env aliases kept for deployments that still use the old variable names
var aliases = map[string][]string{
	"discord_token":    {"DISCORD_TOKEN", "KRTEK_DC_TOKEN"},
	"guild_id":         {"GUILD_ID", "FBI_ID"},
	"alert_channel_id": {"ALERT_CHANNEL_ID", "GENERAL_CHANNEL_ID"},
	"log_channel_id":   {"LOG_CHANNEL_ID"},
	"http_port":        {"HTTP_PORT", "PORT"},
	"whisper_model":    {"WHISPER_MODEL", "MODEL"},
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8081)
	v.SetDefault("wordlist_path", "./data/slurs.json")
	v.SetDefault("wordlist_watch", true)
	v.SetDefault("recordings_dir", "./data/recordings")
	v.SetDefault("processing_dir", "./data/processing")
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("whisper_path", "./lib/whisper.cpp/build/bin/whisper-cli")
	v.SetDefault("whisper_model", "./lib/whisper.cpp/models/ggml-base.bin")
	v.SetDefault("whisper_language", "pl")
	v.SetDefault("silence_ms", 2000)
	v.SetDefault("transcribe_timeout", "5m")

	for key, envs := range aliases {
		v.BindEnv(append([]string{key}, envs...)...)
	}
	v.AutomaticEnv()
}

// Load reads the settings the bot needs from v and validates them.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DiscordToken:   v.GetString("discord_token"),
		GuildID:        v.GetString("guild_id"),
		AlertChannelID: v.GetString("alert_channel_id"),
		LogChannelID:   v.GetString("log_channel_id"),
		HTTPPort:       v.GetInt("http_port"),

		WordlistPath:  v.GetString("wordlist_path"),
		WordlistWatch: v.GetBool("wordlist_watch"),

		RecordingsDir: v.GetString("recordings_dir"),
		ProcessingDir: v.GetString("processing_dir"),

		FFmpegPath:        v.GetString("ffmpeg_path"),
		WhisperPath:       v.GetString("whisper_path"),
		WhisperModel:      v.GetString("whisper_model"),
		Language:          v.GetString("whisper_language"),
		Silence:           time.Duration(v.GetInt("silence_ms")) * time.Millisecond,
		TranscribeTimeout: v.GetDuration("transcribe_timeout"),
	}

	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("missing DISCORD_TOKEN or --discord-token=")
	}
	if cfg.AlertChannelID == "" {
		return nil, fmt.Errorf("missing ALERT_CHANNEL_ID or --alert-channel=")
	}
	if cfg.Silence <= 0 {
		return nil, fmt.Errorf("silence_ms must be positive, got %s", cfg.Silence)
	}
	if cfg.TranscribeTimeout < 0 {
		return nil, fmt.Errorf("transcribe_timeout must not be negative")
	}

	return cfg, nil
}

// EnsureDirs creates the recording and processing directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.RecordingsDir, c.ProcessingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
