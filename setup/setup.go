package setup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Answers are the settings collected by the setup form.
type Answers struct {
	DiscordToken   string
	GuildID        string
	AlertChannelID string
	LogChannelID   string
	WordlistPath   string
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

// RunSetup asks for the bot settings and writes them to the config file.
func RunSetup(v *viper.Viper, path string, logger *log.Logger) error {
	logger.Info("starting krtek setup")

	a := Answers{
		DiscordToken:   v.GetString("discord_token"),
		GuildID:        v.GetString("guild_id"),
		AlertChannelID: v.GetString("alert_channel_id"),
		LogChannelID:   v.GetString("log_channel_id"),
		WordlistPath:   v.GetString("wordlist_path"),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				EchoMode(huh.EchoModePassword).
				Validate(required("token")).
				Value(&a.DiscordToken),
			huh.NewInput().
				Title("Guild ID").
				Description("Leave empty to moderate every guild the bot is in").
				Value(&a.GuildID),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Alert channel ID").
				Validate(required("alert channel")).
				Value(&a.AlertChannelID),
			huh.NewInput().
				Title("Transcript log channel ID").
				Description("Optional").
				Value(&a.LogChannelID),
			huh.NewInput().
				Title("Wordlist file").
				Value(&a.WordlistPath),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			logger.Warn("setup aborted")
			return nil
		}
		return fmt.Errorf("setup form: %w", err)
	}

	if err := Save(v, a, path); err != nil {
		return err
	}

	logger.Info("setup completed", "config", path)
	return nil
}

// Save stores the answers in v and writes v to path.
func Save(v *viper.Viper, a Answers, path string) error {
	v.Set("discord_token", strings.TrimSpace(a.DiscordToken))
	v.Set("guild_id", strings.TrimSpace(a.GuildID))
	v.Set("alert_channel_id", strings.TrimSpace(a.AlertChannelID))
	v.Set("log_channel_id", strings.TrimSpace(a.LogChannelID))
	if a.WordlistPath != "" {
		v.Set("wordlist_path", strings.TrimSpace(a.WordlistPath))
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}
	return nil
}
