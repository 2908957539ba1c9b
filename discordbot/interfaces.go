package discordbot

import "github.com/bwmarrin/discordgo"

// Discord is the slice of the discordgo session the bot relies on.
type Discord interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelVoiceJoin(gID, cID string, mute, deaf bool) (VoiceLink, error)
	ChannelMessageSendEmbeds(
		channelID string,
		embeds []*discordgo.MessageEmbed,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	User(
		userID string,
		options ...discordgo.RequestOption,
	) (*discordgo.User, error)
	GuildChannels(
		guildID string,
		options ...discordgo.RequestOption,
	) (st []*discordgo.Channel, err error)
	GuildMembers(
		guildID string,
		after string,
		limit int,
		options ...discordgo.RequestOption,
	) (st []*discordgo.Member, err error)
	GuildMember(
		guildID, userID string,
		options ...discordgo.RequestOption,
	) (st *discordgo.Member, err error)
	Channel(
		channelID string,
		options ...discordgo.RequestOption,
	) (st *discordgo.Channel, err error)
	MyUserID() (userID string, err error)
	GuildVoiceStates(guildID string) ([]*discordgo.VoiceState, error)
}

// VoiceLink is one joined voice channel.
type VoiceLink interface {
	// OnSpeaking registers f for speaking updates. It maps SSRCs to users.
	OnSpeaking(f func(userID string, ssrc uint32, speaking bool))
	Packets() <-chan *discordgo.Packet
	Disconnect() error
}
