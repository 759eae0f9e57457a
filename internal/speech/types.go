package speech

import (
	"context"
	"errors"
	"time"

	"cognisafe/internal/device"
)

// ErrNoSpeech is returned by an Analyzer when the recording holds no
// usable speech. The sentence is presented again on retry.
var ErrNoSpeech = errors.New("no speech detected")

var (
	ErrWrongPhase = errors.New("action not allowed in current phase")
	ErrFinished   = errors.New("speech session already finished")
)

// Session is issued by the screening service for one speech test.
type Session struct {
	ID            string   `json:"session_id"`
	Sentences     []string `json:"stimulus_sentences"`
	InitialVolume float64  `json:"initial_volume"`
}

type SessionIssuer interface {
	StartSpeech(ctx context.Context, userID string) (Session, error)
}

type AnalysisRequest struct {
	SessionID          string
	Sentence           string
	Audio              []byte // WAV
	PlaybackEndedAt    time.Time
	ListeningStartedAt time.Time
}

type PauseLocation struct {
	AfterWord string  `json:"after_word"`
	Duration  float64 `json:"duration"`
}

// Analysis is the per-trial report from the analysis service.
type Analysis struct {
	ReactionTimeMs  float64            `json:"reaction_time_ms"`
	Transcription   string             `json:"transcription"`
	WordAccuracy    float64            `json:"word_accuracy"`
	SpeechRateWPM   float64            `json:"speech_rate_wpm"`
	AvgPauseSeconds float64            `json:"avg_pause_duration"`
	LongPauseCount  int                `json:"long_pause_count"`
	PauseLocations  []PauseLocation    `json:"pause_locations"`
	RiskScore       float64            `json:"risk_score"`
	RiskLevel       string             `json:"risk_level"`
	Features        map[string]float64 `json:"features,omitempty"`
}

type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (Analysis, error)
}

type Player interface {
	Play(ctx context.Context, s device.Stimulus, volume float64) (*device.Playback, error)
	Stop()
}

type Recorder interface {
	Acquire(ctx context.Context, owner string, maxDur time.Duration) (*device.Capture, error)
}

type Phase string

const (
	PhaseIdle       = Phase("idle")
	PhasePresenting = Phase("presenting")
	PhaseListening  = Phase("listening")
	PhaseCapturing  = Phase("capturing")
	PhaseAnalyzing  = Phase("analyzing")
	PhaseFeedback   = Phase("feedback")
	PhaseFailed     = Phase("failed")
	PhaseDone       = Phase("done")
	PhaseSkipped    = Phase("skipped")
	PhaseAbandoned  = Phase("abandoned")
)

func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseSkipped || p == PhaseAbandoned
}

// Trial is one analysed sentence.
type Trial struct {
	Index              int       `json:"index"`
	Sentence           string    `json:"sentence"`
	PlaybackEndedAt    time.Time `json:"playback_ended_at"`
	ListeningStartedAt time.Time `json:"listening_started_at"`
	CaptureStartedAt   time.Time `json:"capture_started_at"`
	CaptureEndedAt     time.Time `json:"capture_ended_at"`
	StimulusSkipped    bool      `json:"stimulus_skipped"`
	PlaybackForced     bool      `json:"playback_forced"`
	Submissions        int       `json:"submissions"`
	Analysis           Analysis  `json:"analysis"`
}

// Result is handed off once when the session is done or skipped.
type Result struct {
	RunID      string    `json:"run_id"`
	SessionID  string    `json:"session_id"`
	Trials     []Trial   `json:"trials"`
	Skipped    bool      `json:"skipped"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Snapshot is a read-only view of the coordinator.
type Snapshot struct {
	Phase     Phase   `json:"phase"`
	SessionID string  `json:"session_id,omitempty"`
	Index     int     `json:"index"`
	Total     int     `json:"total"`
	Sentence  string  `json:"sentence,omitempty"`
	Level     float64 `json:"level"`
	LastError string  `json:"last_error,omitempty"`
	Trials    []Trial `json:"trials"`
	Result    *Result `json:"result,omitempty"`
}

type Deps struct {
	Issuer   SessionIssuer
	Player   Player
	Recorder Recorder
	Analyzer Analyzer
	// OnPhase, if set, is called outside the lock after every transition.
	OnPhase func(Phase, int)
}

type Config struct {
	SettleDelay   time.Duration
	CaptureMax    time.Duration
	FeedbackDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		SettleDelay:   500 * time.Millisecond,
		CaptureMax:    10 * time.Second,
		FeedbackDelay: 3 * time.Second,
	}
}
