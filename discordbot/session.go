package discordbot

import (
	"errors"

	"github.com/bwmarrin/discordgo"
)

// DiscordSession adapts *discordgo.Session to the Discord interface.
type DiscordSession struct {
	*discordgo.Session
}

func NewDiscordSession(token string) (*DiscordSession, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildVoiceStates

	return &DiscordSession{Session: s}, nil
}

func (d *DiscordSession) ChannelVoiceJoin(
	gID, cID string,
	mute, deaf bool,
) (VoiceLink, error) {
	vc, err := d.Session.ChannelVoiceJoin(gID, cID, mute, deaf)
	if err != nil {
		return nil, err
	}
	return &discordVoice{vc: vc}, nil
}

func (d *DiscordSession) MyUserID() (string, error) {
	if d.State == nil || d.State.User == nil {
		return "", errors.New("session is not ready")
	}
	return d.State.User.ID, nil
}

func (d *DiscordSession) GuildVoiceStates(guildID string) ([]*discordgo.VoiceState, error) {
	guild, err := d.State.Guild(guildID)
	if err != nil {
		return nil, err
	}

	d.State.RLock()
	defer d.State.RUnlock()
	return append([]*discordgo.VoiceState(nil), guild.VoiceStates...), nil
}

type discordVoice struct {
	vc *discordgo.VoiceConnection
}

func (v *discordVoice) OnSpeaking(f func(userID string, ssrc uint32, speaking bool)) {
	v.vc.AddHandler(func(_ *discordgo.VoiceConnection, u *discordgo.VoiceSpeakingUpdate) {
		f(u.UserID, uint32(u.SSRC), u.Speaking)
	})
}

func (v *discordVoice) Packets() <-chan *discordgo.Packet {
	return v.vc.OpusRecv
}

func (v *discordVoice) Disconnect() error {
	return v.vc.Disconnect()
}
