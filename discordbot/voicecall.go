package discordbot

import (
	"context"
	"sort"
	"sync"

	dis "github.com/bwmarrin/discordgo"

	"krtek/audio"
	"krtek/metrics"
)

// VoiceSession is the bot's presence in one guild's voice channel.
type VoiceSession struct {
	mu sync.Mutex

	GuildID   string
	ChannelID string

	bot  *Bot
	link VoiceLink

	listening bool
	closed    bool
	streams   map[string]*captureStream // user id
	ssrcUsers map[uint32]string

	ctx    context.Context
	cancel context.CancelFunc
}

func newVoiceSession(bot *Bot, guildID, channelID string, link VoiceLink) *VoiceSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &VoiceSession{
		GuildID:   guildID,
		ChannelID: channelID,
		bot:       bot,
		link:      link,
		streams:   make(map[string]*captureStream),
		ssrcUsers: make(map[uint32]string),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (bot *Bot) onParticipantJoinedChannel(next *dis.VoiceState) {
	bot.mu.Lock()
	sess := bot.sessions[next.GuildID]
	if sess == nil {
		link, err := bot.conn.ChannelVoiceJoin(next.GuildID, next.ChannelID, false, false)
		if err != nil {
			bot.mu.Unlock()
			bot.log.Error(
				"failed to join voice channel",
				"guild", next.GuildID,
				"channel", next.ChannelID,
				"error", err,
			)
			return
		}

		sess = newVoiceSession(bot, next.GuildID, next.ChannelID, link)
		bot.sessions[next.GuildID] = sess
		metrics.VoiceSessions.Inc()
		bot.log.Info("joined", "guild", next.GuildID, "channel", next.ChannelID, "user", next.UserID)
	}
	bot.mu.Unlock()

	sess.listen()
}

func (bot *Bot) onParticipantLeftChannel(prev *dis.VoiceState) {
	bot.mu.Lock()
	defer bot.mu.Unlock()

	sess := bot.sessions[prev.GuildID]
	if sess == nil {
		return
	}

	if me, err := bot.conn.MyUserID(); err == nil && prev.UserID == me {
		delete(bot.sessions, prev.GuildID)
		bot.log.Warn("disconnected from voice", "guild", prev.GuildID, "channel", prev.ChannelID)
		sess.close()
		return
	}

	sess.stopStream(prev.UserID)
	if prev.ChannelID != sess.ChannelID {
		return
	}

	remaining, err := bot.humansIn(prev.GuildID, sess.ChannelID, prev.UserID)
	if err != nil {
		bot.log.Warn("count participants", "guild", prev.GuildID, "error", err)
		return
	}
	if remaining > 0 {
		return
	}

	delete(bot.sessions, prev.GuildID)
	bot.log.Info("leaving", "guild", prev.GuildID, "channel", sess.ChannelID)
	sess.close()
}

// humansIn counts non-bot users in a channel, not counting exclude.
func (bot *Bot) humansIn(guildID, channelID, exclude string) (int, error) {
	states, err := bot.conn.GuildVoiceStates(guildID)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, vs := range states {
		if vs.ChannelID != channelID || vs.UserID == exclude {
			continue
		}
		if bot.isBot(vs) {
			continue
		}
		n++
	}
	return n, nil
}

// listen attaches the speaking handler and the packet router once.
func (sess *VoiceSession) listen() {
	sess.mu.Lock()
	if sess.listening || sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.listening = true
	sess.mu.Unlock()

	sess.link.OnSpeaking(sess.onSpeaking)
	go sess.route(sess.link.Packets())
}

func (sess *VoiceSession) onSpeaking(userID string, ssrc uint32, speaking bool) {
	if userID == "" {
		return
	}

	sess.mu.Lock()
	sess.ssrcUsers[ssrc] = userID
	sess.mu.Unlock()

	if speaking {
		sess.startStream(userID)
	}
}

func (sess *VoiceSession) route(packets <-chan *dis.Packet) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case p, ok := <-packets:
			if !ok {
				return
			}
			sess.dispatch(p)
		}
	}
}

func (sess *VoiceSession) dispatch(p *dis.Packet) {
	sess.mu.Lock()
	userID, known := sess.ssrcUsers[p.SSRC]
	stream := sess.streams[userID]
	sess.mu.Unlock()
	if !known {
		return
	}

	// Discord announces speaking once per ssrc, so later utterances
	// only show up as packets.
	if stream == nil {
		if audio.IsSilence(p.Opus) {
			return
		}
		stream = sess.startStream(userID)
		if stream == nil {
			return
		}
	}

	if !stream.push(p.Opus) {
		metrics.DroppedFrames.Inc()
		sess.bot.hear.Warn("dropping voice frame", "user", userID, "channel", sess.ChannelID)
	}
}

// startStream returns the user's active stream, creating it if needed.
func (sess *VoiceSession) startStream(userID string) *captureStream {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.closed {
		return nil
	}
	if stream, ok := sess.streams[userID]; ok {
		return stream
	}

	dec, err := sess.bot.opts.NewDecoder()
	if err != nil {
		sess.bot.hear.Error("create decoder", "user", userID, "error", err)
		return nil
	}

	stream := newCaptureStream(sess, userID, dec)
	sess.streams[userID] = stream
	metrics.CaptureStreams.Inc()

	sess.bot.streams.Add(1)
	go stream.run()

	sess.bot.hear.Debug("capture started", "user", userID, "channel", sess.ChannelID)
	return stream
}

func (sess *VoiceSession) stopStream(userID string) {
	sess.mu.Lock()
	stream := sess.streams[userID]
	delete(sess.streams, userID)
	sess.mu.Unlock()

	if stream != nil {
		stream.stop()
	}
}

// detach removes the map entry if it still belongs to stream.
func (sess *VoiceSession) detach(stream *captureStream) {
	sess.mu.Lock()
	if sess.streams[stream.userID] == stream {
		delete(sess.streams, stream.userID)
	}
	sess.mu.Unlock()
}

func (sess *VoiceSession) close() {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.closed = true
	streams := sess.streams
	sess.streams = make(map[string]*captureStream)
	sess.mu.Unlock()

	sess.cancel()
	for _, stream := range streams {
		stream.stop()
	}

	if err := sess.link.Disconnect(); err != nil {
		sess.bot.log.Error("disconnect", "guild", sess.GuildID, "error", err)
	}
	metrics.VoiceSessions.Dec()
}

// Speakers lists users with an active capture.
func (sess *VoiceSession) Speakers() []string {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ids := make([]string, 0, len(sess.streams))
	for id := range sess.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
