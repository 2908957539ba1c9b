package discordbot

import (
	"fmt"
	"sync"
	"time"

	dis "github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"krtek/audio"
	"krtek/stt"
)

// Submitter accepts finished captures for transcription.
type Submitter interface {
	Submit(job *stt.Job)
}

type Options struct {
	// GuildID restricts the bot to one guild when set.
	GuildID       string
	RecordingsDir string
	ProcessingDir string
	Silence       time.Duration

	// NewDecoder allocates the per-speaker decoder. Defaults to opus.
	NewDecoder func() (audio.Decoder, error)

	// CaptureLog receives per-speaker capture events. Defaults to the
	// bot logger.
	CaptureLog *log.Logger
}

type Bot struct {
	mu   sync.Mutex // guards sessions, held across voice joins
	log  *log.Logger
	hear *log.Logger

	conn      Discord
	queue     Submitter
	moderator *Moderator
	opts      Options

	sessions map[string]*VoiceSession // guild id
	locks    userLocks
	streams  sync.WaitGroup
}

func NewBot(
	conn Discord,
	queue Submitter,
	moderator *Moderator,
	opts Options,
	logger *log.Logger,
) (*Bot, error) {
	if opts.NewDecoder == nil {
		opts.NewDecoder = func() (audio.Decoder, error) {
			dec, err := audio.NewOpusDecoder()
			if err != nil {
				return nil, err
			}
			return dec, nil
		}
	}
	if opts.CaptureLog == nil {
		opts.CaptureLog = logger
	}
	if opts.Silence <= 0 {
		opts.Silence = 2 * time.Second
	}

	bot := &Bot{
		log:       logger,
		hear:      opts.CaptureLog,
		conn:      conn,
		queue:     queue,
		moderator: moderator,
		opts:      opts,
		sessions:  make(map[string]*VoiceSession),
	}

	bot.conn.AddHandler(bot.handleReady)
	bot.conn.AddHandler(bot.handleVoiceStateUpdate)
	bot.conn.AddHandler(bot.handleMessageCreate)

	err := bot.conn.Open()
	if err != nil {
		return nil, fmt.Errorf("error opening connection: %w", err)
	}

	bot.log.Info("bot connected")
	return bot, nil
}

// Close leaves every voice channel, lets open captures finish and then
// closes the gateway connection.
func (bot *Bot) Close() error {
	bot.mu.Lock()
	sessions := make([]*VoiceSession, 0, len(bot.sessions))
	for id, sess := range bot.sessions {
		sessions = append(sessions, sess)
		delete(bot.sessions, id)
	}
	bot.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}

	bot.streams.Wait()
	return bot.conn.Close()
}

// Wait blocks until every capture stream has finished.
func (bot *Bot) Wait() {
	bot.streams.Wait()
}

func (bot *Bot) handleReady(_ *dis.Session, event *dis.Ready) {
	bot.log.Info(
		"ready",
		"user", event.User.String(),
		"guilds", len(event.Guilds),
	)
}

func (bot *Bot) handleMessageCreate(_ *dis.Session, m *dis.MessageCreate) {
	if m.Author == nil {
		return
	}
	if bot.opts.GuildID != "" && m.GuildID != bot.opts.GuildID {
		return
	}
	if me, err := bot.conn.MyUserID(); err == nil && m.Author.ID == me {
		return
	}

	bot.moderator.OnChatMessage(m.Message)
}

func (bot *Bot) handleVoiceStateUpdate(_ *dis.Session, event *dis.VoiceStateUpdate) {
	next := event.VoiceState
	prev := event.BeforeUpdate
	if next == nil {
		return
	}
	if bot.opts.GuildID != "" && next.GuildID != bot.opts.GuildID {
		return
	}

	bot.log.Debug(
		"voice state",
		"user", next.UserID,
		"from", channelOf(prev),
		"to", next.ChannelID,
	)

	switch {
	case channelOf(prev) == "" && next.ChannelID != "":
		if bot.isBot(next) {
			return
		}
		bot.onParticipantJoinedChannel(next)
	case channelOf(prev) != "" && next.ChannelID == "":
		bot.onParticipantLeftChannel(prev)
	}
}

func channelOf(vs *dis.VoiceState) string {
	if vs == nil {
		return ""
	}
	return vs.ChannelID
}

func (bot *Bot) isBot(vs *dis.VoiceState) bool {
	if vs.Member != nil && vs.Member.User != nil {
		return vs.Member.User.Bot
	}
	if me, err := bot.conn.MyUserID(); err == nil && vs.UserID == me {
		return true
	}

	user, err := bot.conn.User(vs.UserID)
	if err != nil {
		bot.log.Warn("lookup user", "user", vs.UserID, "error", err)
		return false
	}
	return user.Bot
}

// SessionStatus describes one open voice session.
type SessionStatus struct {
	GuildID   string   `json:"guild_id"`
	ChannelID string   `json:"channel_id"`
	Speakers  []string `json:"speakers"`
}

func (bot *Bot) Sessions() []SessionStatus {
	bot.mu.Lock()
	sessions := make([]*VoiceSession, 0, len(bot.sessions))
	for _, sess := range bot.sessions {
		sessions = append(sessions, sess)
	}
	bot.mu.Unlock()

	out := make([]SessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionStatus{
			GuildID:   sess.GuildID,
			ChannelID: sess.ChannelID,
			Speakers:  sess.Speakers(),
		})
	}
	return out
}
