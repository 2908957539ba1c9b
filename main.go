package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"krtek/config"
	"krtek/discordbot"
	"krtek/setup"
	"krtek/stt"
	"krtek/wordlist"
	"krtek/www"
)

var logger = log.New(os.Stdout)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(discordCmd)
	rootCmd.AddCommand(membersCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(setupCmd)

	rootCmd.PersistentFlags().String("discord-token", "", "Discord bot token")
	rootCmd.PersistentFlags().String("guild", "", "Guild ID to moderate")
	rootCmd.PersistentFlags().
		String("alert-channel", "", "Channel ID that receives alerts")
	rootCmd.PersistentFlags().
		String("log-channel", "", "Channel ID that receives transcripts")
	rootCmd.PersistentFlags().Int("http-port", 8081, "Status server port")
	rootCmd.PersistentFlags().String("wordlist", "", "Path to the wordlist JSON file")

	viper.BindPFlag(
		"discord_token",
		rootCmd.PersistentFlags().Lookup("discord-token"),
	)
	viper.BindPFlag("guild_id", rootCmd.PersistentFlags().Lookup("guild"))
	viper.BindPFlag(
		"alert_channel_id",
		rootCmd.PersistentFlags().Lookup("alert-channel"),
	)
	viper.BindPFlag(
		"log_channel_id",
		rootCmd.PersistentFlags().Lookup("log-channel"),
	)
	viper.BindPFlag("http_port", rootCmd.PersistentFlags().Lookup("http-port"))
	viper.BindPFlag("wordlist_path", rootCmd.PersistentFlags().Lookup("wordlist"))
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("read .env", "error", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	config.SetDefaults(viper.GetViper())

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("read config file", "error", err)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "krtek",
	Short: "krtek is a Discord bot that moderates voice and text chat",
	Long: `krtek listens to a Discord voice channel, transcribes every utterance
with whisper.cpp and reports speech or chat messages that hit the wordlist.`,
}

var discordCmd = &cobra.Command{
	Use:   "discord",
	Short: "Start the Discord bot and the status server",
	Run:   runDiscord,
}

var membersCmd = &cobra.Command{
	Use:   "members",
	Short: "List members of the configured guild",
	Run:   runListMembers,
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List channels of the configured guild",
	Run:   runListChannels,
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively write config.yaml",
	Run: func(cmd *cobra.Command, args []string) {
		logs := createLoggers()
		path := viper.ConfigFileUsed()
		if path == "" {
			path = "config.yaml"
		}
		if err := setup.RunSetup(viper.GetViper(), path, logs.main); err != nil {
			logs.main.Fatal("setup", "error", err)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runDiscord(cmd *cobra.Command, args []string) {
	logs := createLoggers()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logs.main.Fatal(err.Error())
	}
	if err := cfg.EnsureDirs(); err != nil {
		logs.main.Fatal("prepare directories", "error", err)
	}

	words, err := wordlist.Load(cfg.WordlistPath, logs.mod)
	if err != nil {
		logs.main.Fatal("load wordlist", "path", cfg.WordlistPath, "error", err)
	}

	queue := stt.NewQueue(
		&stt.FFmpeg{Path: cfg.FFmpegPath},
		&stt.Whisper{
			Path:     cfg.WhisperPath,
			Model:    cfg.WhisperModel,
			Language: cfg.Language,
			Log:      logs.stt,
		},
		cfg.TranscribeTimeout,
		logs.stt,
	)

	session, err := discordbot.NewDiscordSession(cfg.DiscordToken)
	if err != nil {
		logs.main.Fatal("create discord session", "error", err)
	}

	moderator := discordbot.NewModerator(
		session,
		words,
		cfg.AlertChannelID,
		cfg.LogChannelID,
		logs.mod,
	)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// The queue outlives the bot so captures finalized during shutdown
	// still get their files cleaned up.
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return queue.Run(queueCtx)
	})

	bot, err := discordbot.NewBot(
		session,
		queue,
		moderator,
		discordbot.Options{
			GuildID:       cfg.GuildID,
			RecordingsDir: cfg.RecordingsDir,
			ProcessingDir: cfg.ProcessingDir,
			Silence:       cfg.Silence,
			CaptureLog:    logs.hear,
		},
		logs.chat,
	)
	if err != nil {
		logs.main.Fatal("start discord bot", "error", err)
	}

	if cfg.WordlistWatch {
		g.Go(func() error {
			return words.Watch(gctx)
		})
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := words.Reload(); err != nil {
					logs.mod.Error("reload wordlist", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		router := www.NewRouter(www.Status{
			Sessions: bot,
			Queue:    queue,
			Guild:    session,
			GuildID:  cfg.GuildID,
			Log:      logs.http,
		})
		return www.Serve(gctx, cfg.HTTPPort, router, logs.http)
	})

	g.Go(func() error {
		<-gctx.Done()
		logs.main.Info("shutting down")
		err := bot.Close()
		stopQueue()
		return err
	})

	if err := g.Wait(); err != nil {
		logs.main.Error("stopped", "error", err)
	}
	moderator.Wait()
}

// guildSession opens a REST-only session for the listing commands.
func guildSession(logs loggers) (*discordbot.DiscordSession, string) {
	token := viper.GetString("discord_token")
	if token == "" {
		logs.main.Fatal("missing DISCORD_TOKEN or --discord-token=")
	}
	guildID := viper.GetString("guild_id")
	if guildID == "" {
		logs.main.Fatal("missing GUILD_ID or --guild=")
	}

	session, err := discordbot.NewDiscordSession(token)
	if err != nil {
		logs.main.Fatal("create discord session", "error", err)
	}
	return session, guildID
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	return table
}

func runListMembers(cmd *cobra.Command, args []string) {
	logs := createLoggers()
	session, guildID := guildSession(logs)

	members, err := discordbot.GuildMembers(session, guildID)
	if err != nil {
		logs.main.Fatal("fetch members", "error", err)
	}

	if len(members) == 0 {
		fmt.Println("No members found.")
		return
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].User.Username < members[j].User.Username
	})

	table := newTable("ID", "Username", "Nick", "Bot", "Joined")
	for _, m := range members {
		table.Append([]string{
			m.User.ID,
			m.User.Username,
			m.Nick,
			fmt.Sprintf("%v", m.User.Bot),
			m.JoinedAt.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
}

func runListChannels(cmd *cobra.Command, args []string) {
	logs := createLoggers()
	session, guildID := guildSession(logs)

	channels, err := discordbot.GuildChannels(session, guildID)
	if err != nil {
		logs.main.Fatal("fetch channels", "error", err)
	}

	if len(channels) == 0 {
		fmt.Println("No channels found.")
		return
	}

	sort.Slice(channels, func(i, j int) bool {
		return channels[i].Position < channels[j].Position
	})

	table := newTable("ID", "Name", "Type", "Position")
	for _, ch := range channels {
		table.Append([]string{
			ch.ID,
			ch.Name,
			channelTypeName(ch.Type),
			fmt.Sprintf("%d", ch.Position),
		})
	}
	table.Render()
}

func channelTypeName(t discordgo.ChannelType) string {
	switch t {
	case discordgo.ChannelTypeGuildText:
		return "text"
	case discordgo.ChannelTypeGuildVoice:
		return "voice"
	case discordgo.ChannelTypeGuildCategory:
		return "category"
	case discordgo.ChannelTypeGuildNews:
		return "news"
	case discordgo.ChannelTypeGuildStageVoice:
		return "stage"
	case discordgo.ChannelTypeGuildForum:
		return "forum"
	}
	if t >= discordgo.ChannelTypeGuildNewsThread && t <= discordgo.ChannelTypeGuildPrivateThread {
		return "thread"
	}
	return fmt.Sprintf("type %d", t)
}

type loggers struct {
	main, chat, hear, stt, mod, http *log.Logger
}

func createLoggers() loggers {
	logLevel := log.DebugLevel

	logger.SetLevel(logLevel)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	return loggers{
		main: logger.With().WithPrefix("main"),
		chat: logger.With().WithPrefix("chat"),
		hear: logger.With().WithPrefix("hear"),
		stt:  logger.With().WithPrefix("stt"),
		mod:  logger.With().WithPrefix("mod"),
		http: logger.With().WithPrefix("http"),
	}
}
