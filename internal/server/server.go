// Package server exposes assessment runs over HTTP: JSON endpoints drive
// each coordinator, an SSE stream reports progress, and a websocket links
// the participant's browser as the audio device.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"cognisafe/internal/analytics"
	"cognisafe/internal/clock"
	"cognisafe/internal/config"
	"cognisafe/internal/db"
	"cognisafe/internal/remote"
	"cognisafe/internal/runs"
	"cognisafe/internal/services"
)

type Server struct {
	Runs      *runs.Store
	DB        *db.DB             // nil if no database configured
	Analytics *analytics.Queries // nil if no database configured
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /runs", s.handleCreateRun)
	mux.HandleFunc("GET /runs/{code}", s.handleGetRun)
	mux.HandleFunc("DELETE /runs/{code}", s.handleDeleteRun)
	mux.HandleFunc("GET /runs/{code}/status", s.handleStatus)
	mux.HandleFunc("GET /runs/{code}/events", s.handleEvents)
	mux.HandleFunc("GET /runs/{code}/device", s.handleDevice)

	mux.HandleFunc("POST /runs/{code}/games/{game}/start", s.handleGameStart)
	mux.HandleFunc("POST /runs/{code}/games/{game}/input", s.handleGameInput)
	mux.HandleFunc("POST /runs/{code}/games/{game}/abandon", s.handleGameAbandon)
	mux.HandleFunc("POST /runs/{code}/games/{game}/submit", s.handleGameSubmit)
	mux.HandleFunc("GET /runs/{code}/games/{game}", s.handleGameGet)
	mux.HandleFunc("GET /runs/{code}/games/{game}/summary", s.handleGameSummary)

	mux.HandleFunc("POST /runs/{code}/audiometry/start", s.handleAudiometryStart)
	mux.HandleFunc("POST /runs/{code}/audiometry/respond", s.handleAudiometryRespond)
	mux.HandleFunc("POST /runs/{code}/audiometry/skip", s.handleAudiometrySkip)
	mux.HandleFunc("GET /runs/{code}/audiometry", s.handleAudiometryGet)

	mux.HandleFunc("POST /runs/{code}/speech/start", s.handleSpeechStart)
	mux.HandleFunc("POST /runs/{code}/speech/stop", s.handleSpeechStop)
	mux.HandleFunc("POST /runs/{code}/speech/retry", s.handleSpeechRetry)
	mux.HandleFunc("POST /runs/{code}/speech/abandon", s.handleSpeechAbandon)
	mux.HandleFunc("GET /runs/{code}/speech", s.handleSpeechGet)

	mux.HandleFunc("POST /runs/{code}/eeg", s.handleEEGUpload)

	mux.HandleFunc("GET /participants/{user}/history", s.handleHistory)
	mux.HandleFunc("GET /participants/{user}/thresholds", s.handleThresholds)
	mux.HandleFunc("GET /sessions/{id}/summary", s.handleSessionSummary)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// shutdown drains HTTP handlers, closes every run, and only then stops the
// attempt writer.
func (s *Server) shutdown(httpSrv *http.Server, stopWriter func()) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := httpSrv.Shutdown(shutdownCtx)
	s.Runs.Close()
	stopWriter()
	log.Println("[Server] Shut down")
	return err
}

// Run serves until ctx is cancelled or the listener fails.
func Run(ctx context.Context, cfg config.Config) error {
	timings, err := config.LoadTimings(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading timings: %w", err)
	}

	deps := runs.Deps{
		Services: services.New(cfg.ScreeningAPIURL, cfg.ServiceTimeout, uint(cfg.StatusPollRetries)),
		Hub:      remote.NewHub(),
		Clock:    clock.Real{},
		Timings:  timings,
	}
	srv := &Server{}

	g, ctx := errgroup.WithContext(ctx)
	// The attempt writer outlives the runs so late attempts are flushed.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()

	// Optional database connection
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Printf("[DB] Failed to connect: %v (running without database)\n", err)
		} else {
			if err := database.Migrate(); err != nil {
				log.Printf("[DB] Migration failed: %v\n", err)
			}
			srv.DB = database
			srv.Analytics = analytics.NewQueries(database)
			writer := db.NewAttemptWriter(database, 1000)
			deps.Journal = database
			deps.Attempts = writer
			g.Go(func() error {
				writer.Run(writerCtx)
				return nil
			})
			log.Println("[DB] Database connected and migrations applied")
		}
	} else {
		log.Println("[DB] DATABASE_URL not set, running without database")
	}

	srv.Runs = runs.NewStore(deps, cfg.RunTTL)

	httpSrv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		fmt.Printf("Server listening on http://localhost:%s\n", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.shutdown(httpSrv, stopWriter)
	})

	err = g.Wait()
	if srv.DB != nil {
		srv.DB.Close()
	}
	return err
}
