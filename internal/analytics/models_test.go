package analytics

import (
	"testing"

	"cognisafe/internal/trial"
)

func TestSummarize(t *testing.T) {
	r := trial.Result{
		Game: trial.StroopTest,
		Attempts: []trial.Attempt{
			{Subject: "RED/blue", Response: "blue", Correct: true, DurationMs: 900},
			{Subject: "GREEN/red", Response: "green", Correct: false, DurationMs: 500},
			{Subject: "BLUE/blue", Response: "blue", Correct: true, DurationMs: 700},
			{Subject: "YELLOW/green", Response: "green", Correct: true, DurationMs: 1100},
		},
		ElapsedMs: 3200,
		Errors:    1,
	}
	s := Summarize(r)

	if s.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", s.Attempts)
	}
	if s.Correct != 3 {
		t.Errorf("Correct = %d, want 3", s.Correct)
	}
	if s.Errors != 1 {
		t.Errorf("Errors = %d, want 1", s.Errors)
	}
	if s.Accuracy != 75 {
		t.Errorf("Accuracy = %v, want 75", s.Accuracy)
	}
	if s.MeanDurationMs != 800 {
		t.Errorf("MeanDurationMs = %v, want 800", s.MeanDurationMs)
	}
	if s.BestDurationMs != 700 {
		t.Errorf("BestDurationMs = %d, want 700", s.BestDurationMs)
	}
	if s.TotalTimeMs != 3200 {
		t.Errorf("TotalTimeMs = %d, want 3200", s.TotalTimeMs)
	}
}

func TestSummarize_BestIgnoresErrors(t *testing.T) {
	r := trial.Result{
		Game: trial.TrailMaking,
		Attempts: []trial.Attempt{
			{Correct: false, DurationMs: 100},
			{Correct: true, DurationMs: 400},
		},
		Errors: 1,
	}
	if got := Summarize(r).BestDurationMs; got != 400 {
		t.Errorf("BestDurationMs = %d, want 400", got)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(trial.Result{Game: trial.MemoryMatch})
	if s.Accuracy != 0 || s.MeanDurationMs != 0 || s.BestDurationMs != 0 {
		t.Errorf("empty summary = %+v, want zero metrics", s)
	}
}
