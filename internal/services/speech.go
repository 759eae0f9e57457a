package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"cognisafe/internal/audiometry"
	"cognisafe/internal/speech"
)

type startSpeechRequest struct {
	UserID   string `json:"user_id"`
	TestType string `json:"test_type"`
}

func (c *Client) StartSpeech(ctx context.Context, userID string) (speech.Session, error) {
	var s speech.Session
	err := c.postJSON(ctx, "start_speech", "/api/speech/start-test", startSpeechRequest{UserID: userID, TestType: "full"}, &s)
	return s, err
}

// Analyze uploads one recording. A 422 response means the service heard
// no speech and is reported as speech.ErrNoSpeech.
func (c *Client) Analyze(ctx context.Context, r speech.AnalysisRequest) (speech.Analysis, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := [][2]string{
		{"session_id", r.SessionID},
		{"stimulus_sentence", r.Sentence},
		{"audio_end_timestamp", strconv.FormatInt(r.PlaybackEndedAt.UnixMilli(), 10)},
		{"speech_start_timestamp", strconv.FormatInt(r.ListeningStartedAt.UnixMilli(), 10)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return speech.Analysis{}, fmt.Errorf("writing %s: %w", f[0], err)
		}
	}
	part, err := w.CreateFormFile("file", "recording.wav")
	if err != nil {
		return speech.Analysis{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(r.Audio); err != nil {
		return speech.Analysis{}, fmt.Errorf("writing audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return speech.Analysis{}, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/speech/analyze", &body)
	if err != nil {
		return speech.Analysis{}, fmt.Errorf("creating analyze request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var a speech.Analysis
	err = c.do(req, "analyze", &a)
	var te *TransportError
	if errors.As(err, &te) && te.Status == http.StatusUnprocessableEntity {
		return speech.Analysis{}, fmt.Errorf("%w: %s", speech.ErrNoSpeech, te.Body)
	}
	return a, err
}

type stepRequest struct {
	FrequencyHz float64 `json:"frequency_hz"`
	VolumeLevel float64 `json:"volume_level"`
	UserHeard   bool    `json:"user_heard"`
}

type stepResponse struct {
	ThresholdDB  *float64 `json:"threshold_db"`
	ContinueTest bool     `json:"continue_test"`
	NextVolume   *float64 `json:"next_volume"`
}

func (c *Client) Step(ctx context.Context, freqHz, volume float64, heard bool) (audiometry.Step, error) {
	var resp stepResponse
	err := c.postJSON(ctx, "audiometry_step", "/api/speech/audiometry", stepRequest{
		FrequencyHz: freqHz,
		VolumeLevel: volume,
		UserHeard:   heard,
	}, &resp)
	if err != nil {
		return audiometry.Step{}, err
	}
	return audiometry.Step{
		Continue:    resp.ContinueTest,
		NextVolume:  resp.NextVolume,
		ThresholdDB: resp.ThresholdDB,
	}, nil
}
