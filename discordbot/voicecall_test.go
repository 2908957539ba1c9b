package discordbot

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dis "github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"krtek/stt"
)

func botState(channelID string) *dis.VoiceState {
	return &dis.VoiceState{
		GuildID:   "g",
		ChannelID: channelID,
		UserID:    "bot",
		Member:    &dis.Member{User: &dis.User{ID: "bot", Bot: true}},
	}
}

func TestJoinCreatesOneSession(t *testing.T) {
	b := newTestBot(t, time.Hour, nil)
	defer b.Close()

	b.handleVoiceStateUpdate(nil, joinEvent("u1", "c"))
	b.handleVoiceStateUpdate(nil, joinEvent("u2", "c"))

	if got := b.discord.Joins(); got != 1 {
		t.Fatalf("joined %d times, want 1", got)
	}
	if got := b.discord.Link(0).Listeners(); got != 1 {
		t.Fatalf("speaking listener attached %d times, want 1", got)
	}
	if sess := b.session("g"); sess == nil || sess.ChannelID != "c" {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestBotJoinIsIgnored(t *testing.T) {
	b := newTestBot(t, time.Hour, nil)
	defer b.Close()

	b.handleVoiceStateUpdate(nil, &dis.VoiceStateUpdate{VoiceState: botState("c")})
	if b.discord.Joins() != 0 || b.session("g") != nil {
		t.Fatal("bot join should not open a session")
	}
}

func TestOtherGuildIsIgnored(t *testing.T) {
	b := newTestBot(t, time.Hour, nil)
	defer b.Close()

	ev := joinEvent("u1", "c")
	ev.GuildID = "elsewhere"
	b.handleVoiceStateUpdate(nil, ev)
	if b.discord.Joins() != 0 {
		t.Fatal("joined a guild outside the configured one")
	}
}

func TestSecondStartIsNoOp(t *testing.T) {
	b := newTestBot(t, time.Hour, nil)

	b.handleVoiceStateUpdate(nil, joinEvent("u1", "c"))
	sess := b.session("g")

	first := sess.startStream("u1")
	second := sess.startStream("u1")
	if first == nil || first != second {
		t.Fatal("second start created a new stream")
	}
	if got := b.decoders.Load(); got != 1 {
		t.Fatalf("allocated %d decoders, want 1", got)
	}
	if got := sess.Speakers(); len(got) != 1 || got[0] != "u1" {
		t.Fatalf("speakers = %v", got)
	}

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if n := len(b.queue.Jobs()); n != 0 {
		t.Fatalf("empty capture produced %d jobs", n)
	}
}

func TestLastLeaveTearsDownSession(t *testing.T) {
	b := newTestBot(t, time.Hour, nil)

	b.handleVoiceStateUpdate(nil, joinEvent("u1", "c"))
	b.handleVoiceStateUpdate(nil, joinEvent("u2", "c"))
	sess := b.session("g")
	link := b.discord.Link(0)

	link.Speak("u1", 1)
	link.Send(1, []byte("hello"))
	waitFor(t, "first frame", func() bool { return b.decoded.Load() >= 1 })

	b.discord.setVoiceStates(human("u2", "c"), botState("c"))
	b.handleVoiceStateUpdate(nil, leaveEvent("u1", "c"))

	if b.session("g") != sess {
		t.Fatal("session closed while a participant remains")
	}
	if got := sess.Speakers(); len(got) != 0 {
		t.Fatalf("leaver still captured: %v", got)
	}

	link.Speak("u2", 2)
	link.Send(2, []byte("hi"))
	waitFor(t, "second frame", func() bool { return b.decoded.Load() >= 2 })

	b.discord.setVoiceStates(botState("c"))
	b.handleVoiceStateUpdate(nil, leaveEvent("u2", "c"))

	if b.session("g") != nil {
		t.Fatal("session survived the last leave")
	}
	if got := sess.Speakers(); len(got) != 0 {
		t.Fatalf("stream map not cleared: %v", got)
	}
	if !link.disconnected.Load() {
		t.Fatal("voice link was not disconnected")
	}

	b.Wait()
	jobs := b.queue.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	users := map[string]bool{}
	for _, job := range jobs {
		users[job.UserID] = true
		if !strings.HasPrefix(filepath.Base(job.AudioPath), job.UserID+".") {
			t.Errorf("unexpected job path %s", job.AudioPath)
		}
		info, err := os.Stat(job.AudioPath)
		if err != nil || info.Size() != 8 {
			t.Errorf("job file %s: %v %v", job.AudioPath, info, err)
		}
	}
	if !users["u1"] || !users["u2"] {
		t.Fatalf("jobs for %v", users)
	}
}

func TestPacketRestartsStreamAfterSilence(t *testing.T) {
	b := newTestBot(t, 30*time.Millisecond, nil)
	defer b.Close()

	b.handleVoiceStateUpdate(nil, joinEvent("u1", "c"))
	sess := b.session("g")
	link := b.discord.Link(0)

	link.Speak("u1", 7)
	link.Send(7, []byte("one"))
	waitFor(t, "first utterance", func() bool { return len(b.queue.Jobs()) == 1 })
	waitFor(t, "stream detached", func() bool { return len(sess.Speakers()) == 0 })

	// No speaking event this time.
	link.Send(7, []byte("two"))
	waitFor(t, "second utterance", func() bool { return len(b.queue.Jobs()) == 2 })

	if got := b.decoders.Load(); got != 2 {
		t.Fatalf("allocated %d decoders, want 2", got)
	}
}

func TestSilenceFramesDoNotExtendCapture(t *testing.T) {
	b := newTestBot(t, 60*time.Millisecond, nil)
	defer b.Close()

	b.handleVoiceStateUpdate(nil, joinEvent("u1", "c"))
	link := b.discord.Link(0)
	link.Speak("u1", 3)
	link.Send(3, []byte("voice"))

	stop := time.After(300 * time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			if len(b.queue.Jobs()) > 0 {
				break loop
			}
			link.Send(3, []byte{0xf8, 0xff, 0xfe})
		case <-stop:
			t.Fatal("comfort noise kept the capture open")
		}
	}
}

func TestDecodeFailureDropsOnlyThatCapture(t *testing.T) {
	b := newTestBot(t, time.Hour, nil)

	b.handleVoiceStateUpdate(nil, joinEvent("u1", "c"))
	b.handleVoiceStateUpdate(nil, joinEvent("u2", "c"))
	sess := b.session("g")
	link := b.discord.Link(0)

	link.Speak("u2", 2)
	link.Send(2, []byte("voice"))
	waitFor(t, "u2 frame", func() bool { return b.decoded.Load() >= 1 })

	link.Speak("u1", 1)
	link.Send(1, []byte("bad"))

	partial := filepath.Join(b.recDir, "u1.pcm")
	waitFor(t, "u1 capture dropped", func() bool {
		got := sess.Speakers()
		if len(got) != 1 || got[0] != "u2" {
			return false
		}
		_, err := os.Stat(partial)
		return os.IsNotExist(err)
	})

	if b.session("g") != sess {
		t.Fatal("session replaced after a stream failure")
	}
	if link.disconnected.Load() {
		t.Fatal("stream failure disconnected the voice link")
	}

	link.Send(2, []byte("more"))
	waitFor(t, "u2 keeps capturing", func() bool { return b.decoded.Load() >= 3 })

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	jobs := b.queue.Jobs()
	if len(jobs) != 1 || jobs[0].UserID != "u2" {
		t.Fatalf("jobs = %+v, want a single job for u2", jobs)
	}
	info, err := os.Stat(jobs[0].AudioPath)
	if err != nil || info.Size() != 16 {
		t.Fatalf("u2 capture %v %v, want 16 bytes", info, err)
	}
}

func TestBotDisconnectTearsDownSession(t *testing.T) {
	b := newTestBot(t, time.Hour, nil)
	defer b.Close()

	b.handleVoiceStateUpdate(nil, joinEvent("u1", "c"))
	b.handleVoiceStateUpdate(nil, joinEvent("u2", "c"))
	link := b.discord.Link(0)
	b.discord.setVoiceStates(human("u1", "c"), human("u2", "c"))

	b.handleVoiceStateUpdate(nil, &dis.VoiceStateUpdate{
		VoiceState:   &dis.VoiceState{GuildID: "g", UserID: "bot"},
		BeforeUpdate: botState("c"),
	})

	if b.session("g") != nil {
		t.Fatal("session kept after the bot was disconnected")
	}
	if !link.disconnected.Load() {
		t.Fatal("voice link not closed")
	}

	b.handleVoiceStateUpdate(nil, joinEvent("u3", "c"))
	if got := b.discord.Joins(); got != 2 {
		t.Fatalf("joined %d times, want a rejoin", got)
	}
}

func TestCloseFinalizesCaptures(t *testing.T) {
	b := newTestBot(t, time.Hour, nil)

	b.handleVoiceStateUpdate(nil, joinEvent("u1", "c"))
	link := b.discord.Link(0)
	link.Speak("u1", 1)
	link.Send(1, []byte("voice"))
	waitFor(t, "frame", func() bool { return b.decoded.Load() >= 1 })

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if n := len(b.queue.Jobs()); n != 1 {
		t.Fatalf("got %d jobs, want 1", n)
	}
	if !link.disconnected.Load() {
		t.Fatal("voice link was not disconnected")
	}
	if len(b.Sessions()) != 0 {
		t.Fatal("sessions survived close")
	}
}

type wavConverter struct{}

func (wavConverter) Convert(_ context.Context, pcmPath string) (string, error) {
	out := strings.TrimSuffix(pcmPath, ".pcm") + ".wav"
	return out, os.WriteFile(out, nil, 0o644)
}

type MockEngine struct {
	mu      sync.Mutex
	active  atomic.Int32
	overlap atomic.Bool
	order   []string
	lines   map[string]string
}

func (e *MockEngine) Transcribe(_ context.Context, audioPath string, emit func(string)) error {
	if e.active.Add(1) > 1 {
		e.overlap.Store(true)
	}
	defer e.active.Add(-1)

	user := strings.SplitN(filepath.Base(audioPath), ".", 2)[0]
	e.mu.Lock()
	e.order = append(e.order, user)
	e.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	emit(e.lines[user])
	return nil
}

type orderedSubmitter struct {
	mu    sync.Mutex
	users []string
	next  Submitter
}

func (s *orderedSubmitter) Submit(job *stt.Job) {
	s.mu.Lock()
	s.users = append(s.users, job.UserID)
	s.mu.Unlock()
	s.next.Submit(job)
}

func TestThreeSpeakersProduceSequentialJobs(t *testing.T) {
	engine := &MockEngine{lines: map[string]string{
		"u1": "dzień dobry",
		"u2": "Hej Kiełbasa!!",
		"u3": "do widzenia",
	}}
	queue := stt.NewQueue(wavConverter{}, engine, time.Minute, log.New(io.Discard))
	submitter := &orderedSubmitter{next: queue}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- queue.Run(ctx) }()
	defer func() { cancel(); <-done }()

	b := newTestBot(t, 40*time.Millisecond, submitter)
	defer b.Close()

	b.handleVoiceStateUpdate(nil, joinEvent("u1", "c"))
	link := b.discord.Link(0)
	for i, user := range []string{"u1", "u2", "u3"} {
		link.Speak(user, uint32(i+1))
	}
	for round := 0; round < 3; round++ {
		for ssrc := uint32(1); ssrc <= 3; ssrc++ {
			link.Send(ssrc, []byte("voice"))
		}
	}

	waitFor(t, "three transcriptions", func() bool { return queue.Status().Processed == 3 })
	b.moderator.Wait()

	if engine.overlap.Load() {
		t.Fatal("engine runs overlapped")
	}

	submitter.mu.Lock()
	submitted := append([]string(nil), submitter.users...)
	submitter.mu.Unlock()
	engine.mu.Lock()
	order := append([]string(nil), engine.order...)
	engine.mu.Unlock()

	if strings.Join(order, ",") != strings.Join(submitted, ",") {
		t.Fatalf("engine order %v, submit order %v", order, submitted)
	}
	seen := map[string]bool{}
	for _, u := range order {
		if seen[u] {
			t.Fatalf("%s transcribed twice", u)
		}
		seen[u] = true
	}
	if len(seen) != 3 {
		t.Fatalf("transcribed %v", order)
	}

	var alerts, logs int
	for _, msg := range b.discord.Sent() {
		switch msg.channelID {
		case "alerts":
			alerts++
			if msg.embeds[1].Description != "<@u2>: Hej Kiełbasa!!" {
				t.Errorf("alert quotes %q", msg.embeds[1].Description)
			}
		case "log":
			logs++
		}
	}
	if alerts != 1 || logs != 3 {
		t.Fatalf("alerts=%d logs=%d, want 1 and 3", alerts, logs)
	}

	entries, err := os.ReadDir(b.procDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("processing dir not cleaned: %d files left", len(entries))
	}
}
