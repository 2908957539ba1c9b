package discordbot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"krtek/audio"
	"krtek/etc"
	"krtek/metrics"
)

// 3 seconds of 20 ms frames.
const frameBuffer = 3 * 1000 / 20

// captureStream records one speaker until they go quiet.
type captureStream struct {
	sess   *VoiceSession
	userID string
	dec    audio.Decoder

	frames   chan []byte
	halt     chan struct{}
	haltOnce sync.Once
	closing  atomic.Bool
}

func newCaptureStream(sess *VoiceSession, userID string, dec audio.Decoder) *captureStream {
	return &captureStream{
		sess:   sess,
		userID: userID,
		dec:    dec,
		frames: make(chan []byte, frameBuffer),
		halt:   make(chan struct{}),
	}
}

// push hands a frame to the stream without blocking.
func (s *captureStream) push(frame []byte) bool {
	if s.closing.Load() {
		return false
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// release stops accepting frames and frees the user's map slot, so new
// speech starts a fresh stream that waits on the file lock.
func (s *captureStream) release() {
	s.closing.Store(true)
	s.sess.detach(s)
}

func (s *captureStream) stop() {
	s.haltOnce.Do(func() {
		close(s.halt)
	})
}

func (s *captureStream) run() {
	bot := s.sess.bot
	defer bot.streams.Done()

	// A previous stream for the same user may still be copying the file.
	lock := bot.locks.get(s.userID)
	lock.Lock()
	defer lock.Unlock()

	defer metrics.CaptureStreams.Dec()

	outcome := s.capture()
	metrics.CapturesFinished.WithLabelValues(outcome).Inc()
}

func (s *captureStream) capture() string {
	bot := s.sess.bot
	path := filepath.Join(bot.opts.RecordingsDir, s.userID+".pcm")

	sink, err := audio.CreatePCMFile(path)
	if err != nil {
		s.release()
		bot.hear.Error("open capture", "user", s.userID, "error", err)
		return "failed"
	}

	silence := time.NewTimer(bot.opts.Silence)
	defer silence.Stop()

	for {
		select {
		case frame := <-s.frames:
			if !audio.IsSilence(frame) {
				resetTimer(silence, bot.opts.Silence)
			}
			if err := s.write(sink, frame); err != nil {
				return s.abort(sink, err)
			}

		case <-silence.C:
			s.release()
			return s.finish(sink, "silence")

		case <-s.halt:
			s.release()
		drain:
			for {
				select {
				case frame := <-s.frames:
					if err := s.write(sink, frame); err != nil {
						return s.abort(sink, err)
					}
				default:
					break drain
				}
			}
			return s.finish(sink, "stopped")
		}
	}
}

func (s *captureStream) write(sink *audio.PCMFile, frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	pcm, err := s.dec.Decode(frame)
	if err != nil {
		return err
	}
	return sink.WriteSamples(pcm)
}

func (s *captureStream) abort(sink *audio.PCMFile, cause error) string {
	s.release()
	log := s.sess.bot.hear

	log.Error("capture failed", "user", s.userID, "error", cause)
	if err := sink.Close(); err != nil {
		log.Warn("close capture", "user", s.userID, "error", err)
	}
	if err := os.Remove(sink.Path()); err != nil && !os.IsNotExist(err) {
		log.Warn("remove capture", "path", sink.Path(), "error", err)
	}
	return "failed"
}

// finish closes the sink and hands a copy of it to the transcription queue.
func (s *captureStream) finish(sink *audio.PCMFile, reason string) string {
	bot := s.sess.bot

	if err := sink.Close(); err != nil {
		bot.hear.Error("close capture", "user", s.userID, "error", err)
		return "failed"
	}

	if sink.Written() == 0 {
		bot.hear.Debug("empty capture", "user", s.userID, "reason", reason)
		return "empty"
	}

	dst := filepath.Join(
		bot.opts.ProcessingDir,
		fmt.Sprintf("%s.%s.pcm", s.userID, etc.Stamp(time.Now())),
	)
	if err := copyFile(sink.Path(), dst); err != nil {
		bot.hear.Error("copy capture", "user", s.userID, "error", err)
		os.Remove(dst)
		return "failed"
	}

	bot.hear.Info(
		"utterance",
		"user", s.userID,
		"reason", reason,
		"bytes", sink.Written(),
	)
	bot.submitCapture(s.userID, dst)
	return "submitted"
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// userLocks hands out one mutex per user id.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *userLocks) get(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	lock, ok := l.m[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.m[userID] = lock
	}
	return lock
}
