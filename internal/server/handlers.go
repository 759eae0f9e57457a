package server

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"cognisafe/internal/analytics"
	"cognisafe/internal/session"
	"cognisafe/internal/trial"
)

const maxEEGUpload = 64 << 20

type createRunRequest struct {
	UserID string `json:"user_id"`
}

type createRunResponse struct {
	Code   string `json:"code"`
	RunID  string `json:"run_id"`
	UserID string `json:"user_id"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	run, err := s.Runs.Create(strings.TrimSpace(req.UserID))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createRunResponse{
		Code:   run.Code,
		RunID:  run.Context.RunID,
		UserID: run.Context.UserID,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run := s.run(w, r)
	if run == nil {
		return
	}
	writeJSON(w, http.StatusOK, run.Summary())
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if !s.Runs.Delete(r.PathValue("code")) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	session.View
	Warning string `json:"warning,omitempty"`
}

// handleStatus polls the status service. A failed poll still returns the
// locally known status with a warning.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run := s.run(w, r)
	if run == nil {
		return
	}
	view, err := run.Status(r.Context())
	if view.RunID == "" && err != nil {
		writeErr(w, err)
		return
	}
	resp := statusResponse{View: view}
	if err != nil {
		log.Printf("[Server] Status for run %s: %v\n", run.Code, err)
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	run := s.run(w, r)
	if run == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	msgChan := run.Broadcaster.Subscribe()
	defer run.Broadcaster.Unsubscribe(msgChan)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-run.Broadcaster.Done():
			return
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: %s\n", msg.Event)
			for _, line := range strings.Split(msg.Data, "\n") {
				fmt.Fprintf(w, "data: %s\n", line)
			}
			fmt.Fprint(w, "\n")
			flusher.Flush()
		}
	}
}

// handleDevice attaches the participant's browser as the run's audio
// device for as long as the websocket stays open.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	run := s.run(w, r)
	if run == nil {
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("[Server] Device accept for run %s: %v\n", run.Code, err)
		return
	}
	if err := run.Device.Serve(r.Context(), conn); err != nil {
		log.Printf("[Server] Device link for run %s: %v\n", run.Code, err)
	}
}

func (s *Server) handleEEGUpload(w http.ResponseWriter, r *http.Request) {
	run := s.run(w, r)
	if run == nil {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxEEGUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading file")
		return
	}
	p, err := run.UploadEEG(r.Context(), header.Filename, data)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.DB != nil {
		if err := s.DB.Ping(); err != nil {
			status = "db_error"
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": status, "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "runs": len(s.Runs.List())})
}

func (s *Server) needAnalytics(w http.ResponseWriter) bool {
	if s.Analytics == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return false
	}
	return true
}

func limitParam(r *http.Request, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		return v
	}
	return fallback
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.needAnalytics(w) {
		return
	}
	game := r.URL.Query().Get("game")
	if game != "" {
		if _, err := trial.ParseGameType(game); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	entries, err := s.Analytics.GameHistory(r.PathValue("user"), game, limitParam(r, 50))
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []analytics.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	if !s.needAnalytics(w) {
		return
	}
	entries, err := s.Analytics.ThresholdHistory(r.PathValue("user"), limitParam(r, 20))
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []analytics.ThresholdEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	if !s.needAnalytics(w) {
		return
	}
	sum, err := s.Analytics.SessionSummary(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
