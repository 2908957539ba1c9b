package discordbot

import (
	"fmt"
	"strings"
	"sync"

	dis "github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"krtek/metrics"
)

const (
	alertColor   = 0xED4245
	contentColor = 0x2EC9DC
	alertTitle   = "❌ Chomik bluzga po raz kolejny"
	alertImage   = "https://i1.sndcdn.com/artworks-nMoQsjqeYcqOfAnl-iDszCQ-t500x500.jpg"
)

// Matcher decides whether text contains a banned word.
type Matcher interface {
	Contains(text string) bool
}

// Messenger is what the moderator needs from Discord to deliver embeds.
type Messenger interface {
	Channel(channelID string, options ...dis.RequestOption) (*dis.Channel, error)
	ChannelMessageSendEmbeds(
		channelID string,
		embeds []*dis.MessageEmbed,
		options ...dis.RequestOption,
	) (*dis.Message, error)
}

// Moderator checks chat and transcripts against the wordlist and reports
// matches. Deliveries happen in the background and never fail the caller.
type Moderator struct {
	log            *log.Logger
	conn           Messenger
	words          Matcher
	alertChannelID string
	logChannelID   string

	wg sync.WaitGroup
}

func NewModerator(
	conn Messenger,
	words Matcher,
	alertChannelID, logChannelID string,
	logger *log.Logger,
) *Moderator {
	return &Moderator{
		log:            logger,
		conn:           conn,
		words:          words,
		alertChannelID: alertChannelID,
		logChannelID:   logChannelID,
	}
}

func (m *Moderator) CheckText(text string) bool {
	return m.words.Contains(text)
}

// OnChatMessage ignores messages from bots.
func (m *Moderator) OnChatMessage(msg *dis.Message) {
	if msg == nil || msg.Author == nil || msg.Author.Bot {
		return
	}

	if !m.CheckText(msg.Content) {
		return
	}

	m.log.Info("match", "source", "chat", "author", msg.Author.ID, "channel", msg.ChannelID)
	metrics.ModerationAlerts.WithLabelValues("chat").Inc()
	m.deliver(m.alertChannelID, alertEmbeds(
		fmt.Sprintf("@%s: %s", msg.Author.String(), msg.Content),
	)...)
}

// OnTranscription handles one line of recognised speech from userID.
func (m *Moderator) OnTranscription(userID, text string) {
	if m.CheckText(text) {
		m.log.Info("match", "source", "voice", "user", userID)
		metrics.ModerationAlerts.WithLabelValues("voice").Inc()
		m.deliver(m.alertChannelID, alertEmbeds(
			fmt.Sprintf("<@%s>: %s", userID, text),
		)...)
	}

	if strings.TrimSpace(text) == "" {
		return
	}
	if m.logChannelID == "" {
		return
	}

	m.deliver(m.logChannelID, contentEmbed(fmt.Sprintf("<@%s>: %s", userID, text)))
}

// Wait blocks until all started deliveries are done.
func (m *Moderator) Wait() {
	m.wg.Wait()
}

func (m *Moderator) deliver(channelID string, embeds ...*dis.MessageEmbed) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.send(channelID, embeds); err != nil {
			metrics.DeliveryFailures.Inc()
			m.log.Error("deliver", "channel", channelID, "error", err)
		}
	}()
}

func (m *Moderator) send(channelID string, embeds []*dis.MessageEmbed) error {
	if channelID == "" {
		return fmt.Errorf("no channel configured")
	}

	ch, err := m.conn.Channel(channelID)
	if err != nil {
		return fmt.Errorf("fetch channel: %w", err)
	}
	if !sendable(ch) {
		return fmt.Errorf("channel %s (type %d) does not accept messages", ch.ID, ch.Type)
	}

	if _, err := m.conn.ChannelMessageSendEmbeds(ch.ID, embeds); err != nil {
		return fmt.Errorf("send embeds: %w", err)
	}
	return nil
}

func sendable(ch *dis.Channel) bool {
	if ch == nil {
		return false
	}
	switch ch.Type {
	case dis.ChannelTypeGuildText,
		dis.ChannelTypeDM,
		dis.ChannelTypeGroupDM,
		dis.ChannelTypeGuildNews,
		dis.ChannelTypeGuildNewsThread,
		dis.ChannelTypeGuildPublicThread,
		dis.ChannelTypeGuildPrivateThread,
		dis.ChannelTypeGuildVoice:
		return true
	}
	return false
}

func alertEmbeds(quote string) []*dis.MessageEmbed {
	return []*dis.MessageEmbed{
		{
			Description: alertTitle,
			Color:       alertColor,
			Image:       &dis.MessageEmbedImage{URL: alertImage},
		},
		contentEmbed(quote),
	}
}

func contentEmbed(text string) *dis.MessageEmbed {
	return &dis.MessageEmbed{
		Description: text,
		Color:       contentColor,
	}
}
