package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level counters for the session lifecycle. Registered on the
// default registry so embedding programs expose them with a single
// promhttp handler.
var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentlive",
		Name:      "runs_started_total",
		Help:      "Runs accepted by RunText.",
	})

	runsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentlive",
		Name:      "runs_settled_total",
		Help:      "Runs settled, labeled by outcome.",
	}, []string{"outcome"})

	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentlive",
		Name:      "transport_reconnects_total",
		Help:      "Successful transport reconnections.",
	})

	captureFramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentlive",
		Name:      "capture_frames_sent_total",
		Help:      "Capture frames emitted to the recognition service.",
	})

	playbackChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentlive",
		Name:      "playback_chunks_total",
		Help:      "Synthesis chunks received, labeled played or dropped.",
	}, []string{"result"})
)

const (
	outcomeDone        = "done"
	outcomeInterrupted = "interrupted"
	outcomeError       = "error"

	resultPlayed  = "played"
	resultDropped = "dropped"
)
