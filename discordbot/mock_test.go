package discordbot

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dis "github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"krtek/audio"
	"krtek/stt"
	"krtek/wordlist"
)

type sentMessage struct {
	channelID string
	embeds    []*dis.MessageEmbed
}

type MockDiscord struct {
	mu sync.Mutex

	me          string
	joins       int
	links       []*MockVoiceLink
	sent        []sentMessage
	channels    map[string]*dis.Channel
	users       map[string]*dis.User
	voiceStates []*dis.VoiceState
	members     []*dis.Member
	afters      []string
}

func NewMockDiscord() *MockDiscord {
	return &MockDiscord{
		me: "bot",
		channels: map[string]*dis.Channel{
			"alerts": {ID: "alerts", Type: dis.ChannelTypeGuildText},
			"log":    {ID: "log", Type: dis.ChannelTypeGuildText},
		},
		users: map[string]*dis.User{
			"bot": {ID: "bot", Bot: true},
		},
	}
}

func (m *MockDiscord) AddHandler(handler interface{}) func() { return func() {} }
func (m *MockDiscord) Open() error                           { return nil }
func (m *MockDiscord) Close() error                          { return nil }

func (m *MockDiscord) ChannelVoiceJoin(gID, cID string, mute, deaf bool) (VoiceLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joins++
	link := &MockVoiceLink{packets: make(chan *dis.Packet, 64)}
	m.links = append(m.links, link)
	return link, nil
}

func (m *MockDiscord) ChannelMessageSendEmbeds(
	channelID string,
	embeds []*dis.MessageEmbed,
	options ...dis.RequestOption,
) (*dis.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{channelID: channelID, embeds: embeds})
	return &dis.Message{ChannelID: channelID, Embeds: embeds}, nil
}

func (m *MockDiscord) User(userID string, options ...dis.RequestOption) (*dis.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return &dis.User{ID: userID}, nil
}

func (m *MockDiscord) GuildChannels(guildID string, options ...dis.RequestOption) ([]*dis.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dis.Channel
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (m *MockDiscord) GuildMembers(
	guildID string,
	after string,
	limit int,
	options ...dis.RequestOption,
) ([]*dis.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.afters = append(m.afters, after)

	start := 0
	if after != "" {
		for i, member := range m.members {
			if member.User.ID == after {
				start = i + 1
			}
		}
	}
	end := start + limit
	if end > len(m.members) {
		end = len(m.members)
	}
	return m.members[start:end], nil
}

func (m *MockDiscord) GuildMember(guildID, userID string, options ...dis.RequestOption) (*dis.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range m.members {
		if member.User.ID == userID {
			return member, nil
		}
	}
	return nil, errors.New("unknown member")
}

func (m *MockDiscord) Channel(channelID string, options ...dis.RequestOption) (*dis.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		return ch, nil
	}
	return nil, errors.New("unknown channel")
}

func (m *MockDiscord) MyUserID() (string, error) { return m.me, nil }

func (m *MockDiscord) GuildVoiceStates(guildID string) ([]*dis.VoiceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*dis.VoiceState(nil), m.voiceStates...), nil
}

func (m *MockDiscord) setVoiceStates(states ...*dis.VoiceState) {
	m.mu.Lock()
	m.voiceStates = states
	m.mu.Unlock()
}

func (m *MockDiscord) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

func (m *MockDiscord) Joins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joins
}

func (m *MockDiscord) Link(i int) *MockVoiceLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[i]
}

type MockVoiceLink struct {
	mu           sync.Mutex
	speaking     []func(string, uint32, bool)
	packets      chan *dis.Packet
	disconnected atomic.Bool
}

func (l *MockVoiceLink) OnSpeaking(f func(userID string, ssrc uint32, speaking bool)) {
	l.mu.Lock()
	l.speaking = append(l.speaking, f)
	l.mu.Unlock()
}

func (l *MockVoiceLink) Packets() <-chan *dis.Packet { return l.packets }

func (l *MockVoiceLink) Disconnect() error {
	l.disconnected.Store(true)
	return nil
}

func (l *MockVoiceLink) Listeners() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.speaking)
}

func (l *MockVoiceLink) Speak(userID string, ssrc uint32) {
	l.mu.Lock()
	handlers := append(([]func(string, uint32, bool))(nil), l.speaking...)
	l.mu.Unlock()
	for _, f := range handlers {
		f(userID, ssrc, true)
	}
}

func (l *MockVoiceLink) Send(ssrc uint32, frame []byte) {
	l.packets <- &dis.Packet{SSRC: ssrc, Opus: frame}
}

// MockDecoder turns every frame into four samples and fails on "bad".
type MockDecoder struct {
	calls *atomic.Int32
}

func (d *MockDecoder) Decode(frame []byte) ([]int16, error) {
	d.calls.Add(1)
	if string(frame) == "bad" {
		return nil, errors.New("corrupt frame")
	}
	return []int16{1, 2, 3, 4}, nil
}

type MockQueue struct {
	mu   sync.Mutex
	jobs []*stt.Job
}

func (q *MockQueue) Submit(job *stt.Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
}

func (q *MockQueue) Jobs() []*stt.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*stt.Job(nil), q.jobs...)
}

type testBot struct {
	*Bot
	discord  *MockDiscord
	queue    *MockQueue
	decoded  *atomic.Int32
	decoders *atomic.Int32
	recDir   string
	procDir  string
}

func newTestBot(t *testing.T, silence time.Duration, submitter Submitter) *testBot {
	t.Helper()

	recDir, procDir := t.TempDir(), t.TempDir()
	discord := NewMockDiscord()
	queue := &MockQueue{}
	if submitter == nil {
		submitter = queue
	}

	decoded := &atomic.Int32{}
	decoders := &atomic.Int32{}
	logger := log.New(io.Discard)
	moderator := NewModerator(discord, wordlist.New("kielbasa"), "alerts", "log", logger)

	bot, err := NewBot(discord, submitter, moderator, Options{
		GuildID:       "g",
		RecordingsDir: recDir,
		ProcessingDir: procDir,
		Silence:       silence,
		NewDecoder: func() (audio.Decoder, error) {
			decoders.Add(1)
			return &MockDecoder{calls: decoded}, nil
		},
	}, logger)
	if err != nil {
		t.Fatal(err)
	}

	return &testBot{
		Bot:      bot,
		discord:  discord,
		queue:    queue,
		decoded:  decoded,
		decoders: decoders,
		recDir:   recDir,
		procDir:  procDir,
	}
}

func (b *testBot) session(guildID string) *VoiceSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[guildID]
}

func human(userID, channelID string) *dis.VoiceState {
	return &dis.VoiceState{
		GuildID:   "g",
		ChannelID: channelID,
		UserID:    userID,
		Member:    &dis.Member{User: &dis.User{ID: userID}},
	}
}

func joinEvent(userID, channelID string) *dis.VoiceStateUpdate {
	return &dis.VoiceStateUpdate{VoiceState: human(userID, channelID)}
}

func leaveEvent(userID, channelID string) *dis.VoiceStateUpdate {
	return &dis.VoiceStateUpdate{
		VoiceState:   human(userID, ""),
		BeforeUpdate: human(userID, channelID),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
