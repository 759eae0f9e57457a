package runs

import (
	"context"
	"fmt"
	"log"

	"cognisafe/internal/db"
	"cognisafe/internal/events"
	"cognisafe/internal/services"
	"cognisafe/internal/session"
)

// UploadEEG relays a recording to the prediction model, saves the
// prediction, and completes the EEG modality. On failure the modality
// stays in progress so the upload can be repeated.
func (r *Run) UploadEEG(ctx context.Context, filename string, data []byte) (services.Prediction, error) {
	r.mu.Lock()
	if err := r.beginLocked(); err != nil {
		r.mu.Unlock()
		return services.Prediction{}, err
	}
	r.mu.Unlock()

	r.Aggregator.Begin(session.EEG)
	p, err := r.deps.Services.PredictEEG(ctx, filename, data)
	if err != nil {
		return services.Prediction{}, fmt.Errorf("predicting eeg: %w", err)
	}
	if err := r.deps.Services.SaveEEG(ctx, r.Context.UserID, filename, p); err != nil {
		return p, fmt.Errorf("saving eeg result: %w", err)
	}

	r.mu.Lock()
	r.eeg = &p
	r.mu.Unlock()
	r.Aggregator.Complete(session.EEG)
	r.publish(events.KindResult, string(session.EEG), p)

	if r.deps.Journal != nil {
		err := r.deps.Journal.RecordEEG(db.EEGRecord{
			RunID:        r.Context.RunID,
			UserID:       r.Context.UserID,
			Filename:     filename,
			StatusClass:  p.StatusClass,
			Probability:  p.Probability,
			RiskLevel:    p.RiskLevel,
			ModelVersion: p.ModelVersion,
		})
		if err != nil {
			log.Printf("[Runs] Journal eeg result: %v\n", err)
		}
	}
	return p, nil
}
