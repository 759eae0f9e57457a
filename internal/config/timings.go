package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"cognisafe/internal/audiometry"
	"cognisafe/internal/device"
	"cognisafe/internal/games"
	"cognisafe/internal/speech"
)

// Timings are the protocol delays and limits of every coordinator.
type Timings struct {
	Games          games.Timings
	Speech         speech.Config
	Audiometry     audiometry.Config
	SpeechFallback time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Games:          games.DefaultTimings(),
		Speech:         speech.DefaultConfig(),
		Audiometry:     audiometry.DefaultConfig(),
		SpeechFallback: device.SpeechFallback,
	}
}

// Duration decodes TOML strings such as "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", text)
	}
	d.Duration = v
	return nil
}

// FileConfig represents the TOML configuration file. Unset keys keep their
// defaults.
type FileConfig struct {
	Games      GamesFile      `toml:"games"`
	Speech     SpeechFile     `toml:"speech"`
	Audiometry AudiometryFile `toml:"audiometry"`
}

type GamesFile struct {
	MatchReveal     *Duration `toml:"match-reveal"`
	MismatchReset   *Duration `toml:"mismatch-reset"`
	PartPause       *Duration `toml:"part-pause"`
	PatternFeedback *Duration `toml:"pattern-feedback"`
}

type SpeechFile struct {
	Settle   *Duration `toml:"settle"`
	Capture  *Duration `toml:"capture-max"`
	Feedback *Duration `toml:"feedback"`
	Fallback *Duration `toml:"playback-fallback"`
}

type AudiometryFile struct {
	FrequencyHz  *float64  `toml:"frequency-hz"`
	StartVolume  *float64  `toml:"start-volume"`
	ToneDuration *Duration `toml:"tone"`
	Settle       *Duration `toml:"settle"`
	MaxAttempts  *int      `toml:"max-attempts"`
}

// LoadTimings reads timings from path over the defaults. Missing file is not
// an error.
func LoadTimings(path string) (Timings, error) {
	t := DefaultTimings()
	if path == "" {
		return t, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, fmt.Errorf("failed to stat config: %w", err)
	}
	var f FileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return t, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := f.apply(&t); err != nil {
		return DefaultTimings(), err
	}
	return t, nil
}

func (f FileConfig) apply(t *Timings) error {
	setDur(&t.Games.MatchReveal, f.Games.MatchReveal)
	setDur(&t.Games.MismatchReset, f.Games.MismatchReset)
	setDur(&t.Games.PartPause, f.Games.PartPause)
	setDur(&t.Games.PatternFeedback, f.Games.PatternFeedback)

	setDur(&t.Speech.SettleDelay, f.Speech.Settle)
	setDur(&t.Speech.CaptureMax, f.Speech.Capture)
	setDur(&t.Speech.FeedbackDelay, f.Speech.Feedback)
	setDur(&t.SpeechFallback, f.Speech.Fallback)

	a := f.Audiometry
	if a.FrequencyHz != nil {
		if *a.FrequencyHz <= 0 {
			return fmt.Errorf("audiometry frequency-hz must be positive")
		}
		t.Audiometry.FrequencyHz = *a.FrequencyHz
	}
	if a.StartVolume != nil {
		if *a.StartVolume < 0 || *a.StartVolume > 1 {
			return fmt.Errorf("audiometry start-volume must be within [0,1]")
		}
		t.Audiometry.StartVolume = *a.StartVolume
	}
	if a.MaxAttempts != nil {
		if *a.MaxAttempts < 1 {
			return fmt.Errorf("audiometry max-attempts must be at least 1")
		}
		t.Audiometry.MaxAttempts = *a.MaxAttempts
	}
	setDur(&t.Audiometry.ToneDuration, a.ToneDuration)
	setDur(&t.Audiometry.SettleDelay, a.Settle)
	if t.Speech.CaptureMax <= 0 {
		return fmt.Errorf("speech capture-max must be positive")
	}
	return nil
}

func setDur(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
