package services

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
)

// Prediction is the EEG model's classification of one recording.
type Prediction struct {
	StatusClass  string  `json:"status_class"`
	Probability  float64 `json:"probability"`
	RiskLevel    string  `json:"risk_level"`
	ModelVersion string  `json:"model_version"`
}

// PredictEEG uploads an EEG file (CSV or EDF) to the model.
func (c *Client) PredictEEG(ctx context.Context, filename string, data []byte) (Prediction, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return Prediction{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Prediction{}, fmt.Errorf("writing eeg data: %w", err)
	}
	if err := w.Close(); err != nil {
		return Prediction{}, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict_file", &body)
	if err != nil {
		return Prediction{}, fmt.Errorf("creating predict request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var p Prediction
	err = c.do(req, "predict_eeg", &p)
	return p, err
}

type saveEEGRequest struct {
	UserID   string `json:"user_id"`
	Filename string `json:"filename"`
	Prediction
}

// SaveEEG stores a prediction against the user.
func (c *Client) SaveEEG(ctx context.Context, userID, filename string, p Prediction) error {
	return c.postJSON(ctx, "save_eeg", "/api/eeg/save_result", saveEEGRequest{UserID: userID, Filename: filename, Prediction: p}, nil)
}
