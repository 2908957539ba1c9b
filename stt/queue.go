package stt

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"krtek/metrics"
)

var ErrQueueRunning = errors.New("transcription queue already running")

// Queue runs transcription jobs one at a time in submission order. The
// engine is CPU bound, so a single worker doubles as backpressure when many
// people finish talking at once.
type Queue struct {
	log       *log.Logger
	converter Converter
	engine    Engine
	timeout   time.Duration

	mu        sync.Mutex
	jobs      []*Job
	running   bool
	busy      bool
	processed int
	failed    int

	wake chan struct{}
}

type QueueStatus struct {
	Pending   int  `json:"pending"`
	Busy      bool `json:"busy"`
	Processed int  `json:"processed"`
	Failed    int  `json:"failed"`
}

// NewQueue builds a queue. A zero timeout lets the engine run for as long
// as it needs.
func NewQueue(
	converter Converter,
	engine Engine,
	timeout time.Duration,
	logger *log.Logger,
) *Queue {
	if logger == nil {
		logger = log.Default()
	}
	return &Queue{
		log:       logger,
		converter: converter,
		engine:    engine,
		timeout:   timeout,
		wake:      make(chan struct{}, 1),
	}
}

// Submit appends a job and returns immediately.
func (q *Queue) Submit(job *Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	depth := len(q.jobs)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	q.log.Debug("queued", "job", job.ID, "user", job.UserID, "depth", depth)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		Pending:   len(q.jobs),
		Busy:      q.busy,
		Processed: q.processed,
		Failed:    q.failed,
	}
}

// Run is the worker loop. It blocks until ctx is done; jobs still waiting
// at that point are cleaned up without being transcribed.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return ErrQueueRunning
	}
	q.running = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	for {
		job := q.next()
		if job == nil {
			select {
			case <-ctx.Done():
				q.drain()
				return nil
			case <-q.wake:
				continue
			}
		}

		if ctx.Err() != nil {
			q.finish(job, false)
			cleanup(job, job.AudioPath)
			q.drain()
			return nil
		}

		ok := q.process(ctx, job)
		q.finish(job, ok)
	}
}

func (q *Queue) next() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil
	}

	job := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	q.busy = true
	metrics.QueueDepth.Set(float64(len(q.jobs)))
	return job
}

func (q *Queue) finish(job *Job, ok bool) {
	q.mu.Lock()
	q.busy = false
	if ok {
		q.processed++
	} else {
		q.failed++
	}
	q.mu.Unlock()

	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	metrics.TranscriptionJobs.WithLabelValues(outcome).Inc()
}

func (q *Queue) process(ctx context.Context, job *Job) bool {
	start := time.Now()
	defer func() {
		metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())
	}()

	var converted string
	defer func() {
		cleanup(job, job.AudioPath)
		if converted != "" {
			cleanup(job, converted)
		}
	}()

	converted, err := q.converter.Convert(ctx, job.AudioPath)
	if err != nil {
		q.log.Error("convert", "job", job.ID, "file", job.AudioPath, "error", err)
		return false
	}

	runCtx := ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	lines := 0
	err = q.engine.Transcribe(runCtx, converted, func(text string) {
		lines++
		job.emit(text)
	})
	if err != nil {
		q.log.Error("transcribe", "job", job.ID, "user", job.UserID, "error", err)
		return false
	}

	q.log.Info(
		"transcribed",
		"job", job.ID,
		"user", job.UserID,
		"lines", lines,
		"took", time.Since(start).Round(time.Millisecond),
	)
	return true
}

func (q *Queue) drain() {
	q.mu.Lock()
	pending := q.jobs
	q.jobs = nil
	q.mu.Unlock()

	metrics.QueueDepth.Set(0)
	for _, job := range pending {
		q.log.Warn("dropping queued job", "job", job.ID, "user", job.UserID)
		cleanup(job, job.AudioPath)
	}
}

func cleanup(job *Job, path string) {
	if job.Cleanup != nil {
		job.Cleanup(path)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Error("remove job file", "path", path, "error", err)
	}
}
