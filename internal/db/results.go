package db

import "fmt"

type SpeechTrialRecord struct {
	RunID           string
	UserID          string
	SpeechSessionID string
	Index           int
	Sentence        string
	Transcription   string
	WordAccuracy    float64
	SpeechRateWPM   float64
	ReactionTimeMs  float64
	RiskLevel       string
	Submissions     int
}

func (d *DB) RecordSpeechTrial(r SpeechTrialRecord) error {
	_, err := d.conn.Exec(`
		INSERT INTO speech_trials (run_id, user_id, speech_session_id, trial_index, sentence, transcription,
			word_accuracy, speech_rate_wpm, reaction_time_ms, risk_level, submissions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (speech_session_id, trial_index) DO UPDATE
		SET transcription = $6, word_accuracy = $7, speech_rate_wpm = $8, reaction_time_ms = $9,
			risk_level = $10, submissions = $11
	`, r.RunID, r.UserID, r.SpeechSessionID, r.Index, r.Sentence, r.Transcription,
		r.WordAccuracy, r.SpeechRateWPM, r.ReactionTimeMs, r.RiskLevel, r.Submissions)
	if err != nil {
		return fmt.Errorf("recording speech trial: %w", err)
	}
	return nil
}

type ThresholdRecord struct {
	RunID       string
	UserID      string
	FrequencyHz float64
	ThresholdDB *float64
	Outcome     string
	Reason      string
	Steps       int
}

func (d *DB) RecordThreshold(r ThresholdRecord) error {
	_, err := d.conn.Exec(`
		INSERT INTO hearing_thresholds (run_id, user_id, frequency_hz, threshold_db, outcome, reason, steps)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.RunID, r.UserID, r.FrequencyHz, r.ThresholdDB, r.Outcome, r.Reason, r.Steps)
	if err != nil {
		return fmt.Errorf("recording threshold: %w", err)
	}
	return nil
}

type EEGRecord struct {
	RunID        string
	UserID       string
	Filename     string
	StatusClass  string
	Probability  float64
	RiskLevel    string
	ModelVersion string
}

func (d *DB) RecordEEG(r EEGRecord) error {
	_, err := d.conn.Exec(`
		INSERT INTO eeg_results (run_id, user_id, filename, status_class, probability, risk_level, model_version)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, r.RunID, r.UserID, r.Filename, r.StatusClass, r.Probability, r.RiskLevel, r.ModelVersion)
	if err != nil {
		return fmt.Errorf("recording eeg result: %w", err)
	}
	return nil
}
