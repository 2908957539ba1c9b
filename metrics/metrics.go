package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VoiceSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "krtek_voice_sessions",
		Help: "Number of guilds with an open voice connection",
	})

	CaptureStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "krtek_capture_streams",
		Help: "Number of speakers currently being captured",
	})
	CapturesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "krtek_captures_finished_total",
		Help: "Finished capture streams by outcome",
	}, []string{"outcome"})
	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "krtek_dropped_frames_total",
		Help: "Opus frames dropped because a capture stream was busy or closing",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "krtek_transcription_queue_depth",
		Help: "Transcription jobs waiting for the worker",
	})
	TranscriptionJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "krtek_transcription_jobs_total",
		Help: "Processed transcription jobs by outcome",
	}, []string{"outcome"})
	TranscriptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "krtek_transcription_duration_seconds",
		Help:    "Wall time spent converting and transcribing one job",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
	})

	ModerationAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "krtek_moderation_alerts_total",
		Help: "Wordlist matches by source",
	}, []string{"source"})
	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "krtek_delivery_failures_total",
		Help: "Notifications that could not be delivered",
	})
)
