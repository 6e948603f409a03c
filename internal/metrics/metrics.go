package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters and gauges. Registration is global, matching the single
// process-wide pipeline.
var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scribe_sessions_active",
		Help: "Number of recording sessions currently active.",
	})

	SpeakersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scribe_speakers_active",
		Help: "Number of per-speaker pipelines currently running.",
	})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_frames_dropped_total",
		Help: "Frames evicted from full per-speaker buffers under backpressure.",
	})

	SegmentsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_segments_emitted_total",
		Help: "Utterance segments emitted by the boundary detector.",
	})

	SegmentsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_segments_discarded_total",
		Help: "Short buffers discarded as noise before dispatch.",
	})

	NoiseFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_noise_filtered_total",
		Help: "Transcription events tagged as noise (empty or hallucinated text).",
	})

	TranscriptionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_transcription_failures_total",
		Help: "Engine calls that failed and produced a degraded event.",
	})

	ArchiveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_archive_failures_total",
		Help: "Per-speaker audio archives abandoned after a write or encode failure.",
	})

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_dispatch_duration_seconds",
		Help:    "Latency of one transcription dispatch, engine call included.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)
