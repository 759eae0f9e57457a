package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"cognisafe/internal/audiometry"
	"cognisafe/internal/device"
	"cognisafe/internal/games"
	"cognisafe/internal/runs"
	"cognisafe/internal/services"
	"cognisafe/internal/session"
	"cognisafe/internal/speech"
)

const maxBody = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Encoding response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	var te *services.TransportError
	switch {
	case errors.Is(err, runs.ErrClosed):
		return http.StatusGone
	case errors.Is(err, runs.ErrNotStarted):
		return http.StatusNotFound
	case errors.Is(err, games.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, runs.ErrActive),
		errors.Is(err, runs.ErrSubmitted),
		errors.Is(err, session.ErrGameCompleted),
		errors.Is(err, games.ErrStarted),
		errors.Is(err, speech.ErrWrongPhase),
		errors.Is(err, speech.ErrFinished),
		errors.Is(err, audiometry.ErrNotAwaiting),
		errors.Is(err, audiometry.ErrStarted):
		return http.StatusConflict
	case errors.As(err, &te):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[Server] %v\n", err)
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// run resolves the {code} path value, writing 404 when unknown.
func (s *Server) run(w http.ResponseWriter, r *http.Request) *runs.Run {
	run := s.Runs.Get(r.PathValue("code"))
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
	}
	return run
}
