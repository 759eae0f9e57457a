package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cognisafe_runs_active",
		Help: "Assessment runs currently held in memory",
	})

	CaptureActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cognisafe_capture_active",
		Help: "Microphone captures currently open",
	})

	PlaybackFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cognisafe_playback_fallbacks_total",
		Help: "Playbacks force-ended by the fallback timer",
	}, []string{"kind"})

	Attempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cognisafe_attempts_total",
		Help: "Game attempts recorded",
	}, []string{"game", "correct"})

	GamesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cognisafe_games_completed_total",
		Help: "Games finalized and handed off",
	}, []string{"game"})

	SpeechTrials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cognisafe_speech_trials_total",
		Help: "Speech trial outcomes",
	}, []string{"outcome"})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cognisafe_analysis_duration_seconds",
		Help:    "Speech analysis round-trip latency",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 4.0, 8.0, 16.0},
	})

	AudiometryTerminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cognisafe_audiometry_terminations_total",
		Help: "Audiometry searches by termination reason",
	}, []string{"reason"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cognisafe_errors_total",
		Help: "Error counts by component",
	}, []string{"component", "error_type"})

	ServiceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cognisafe_service_duration_seconds",
		Help:    "Screening API call latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
	}, []string{"op"})
)
