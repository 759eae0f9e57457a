package db

import (
	"context"
	"log"
	"time"
)

const (
	batchSize     = 50
	flushInterval = 500 * time.Millisecond
)

type attemptBatcher interface {
	BatchRecordAttempts(attempts []AttemptRecord) error
}

// AttemptWriter buffers attempt rows and writes them in batches so that
// engine callbacks never wait on the database.
type AttemptWriter struct {
	store    attemptBatcher
	buffer   chan AttemptRecord
	interval time.Duration
}

func NewAttemptWriter(store attemptBatcher, capacity int) *AttemptWriter {
	return &AttemptWriter{
		store:    store,
		buffer:   make(chan AttemptRecord, capacity),
		interval: flushInterval,
	}
}

// Enqueue never blocks. It reports false when the buffer is full and the
// row was dropped.
func (w *AttemptWriter) Enqueue(a AttemptRecord) bool {
	select {
	case w.buffer <- a:
		return true
	default:
		log.Printf("[DB] Attempt buffer full, dropping attempt %d of session %s\n", a.Seq, a.SessionID)
		return false
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is left.
func (w *AttemptWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]AttemptRecord, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.store.BatchRecordAttempts(batch); err != nil {
			log.Printf("[DB] BatchRecordAttempts error: %v\n", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case a := <-w.buffer:
			batch = append(batch, a)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case a := <-w.buffer:
					batch = append(batch, a)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
