package server

import (
	"net/http"

	"cognisafe/internal/analytics"
	"cognisafe/internal/runs"
	"cognisafe/internal/trial"
)

// game resolves {code} and {game}, writing the error response on failure.
func (s *Server) game(w http.ResponseWriter, r *http.Request) (*runs.Run, trial.GameType, bool) {
	run := s.run(w, r)
	if run == nil {
		return nil, "", false
	}
	g, err := trial.ParseGameType(r.PathValue("game"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, "", false
	}
	return run, g, true
}

func (s *Server) handleGameStart(w http.ResponseWriter, r *http.Request) {
	run, g, ok := s.game(w, r)
	if !ok {
		return
	}
	snap, err := run.StartGame(r.Context(), g)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type inputRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleGameInput(w http.ResponseWriter, r *http.Request) {
	run, g, ok := s.game(w, r)
	if !ok {
		return
	}
	var req inputRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := run.GameInput(g, req.Value)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGameAbandon(w http.ResponseWriter, r *http.Request) {
	run, g, ok := s.game(w, r)
	if !ok {
		return
	}
	if err := run.AbandonGame(g); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGameSubmit resends a finished game the scoring service rejected.
func (s *Server) handleGameSubmit(w http.ResponseWriter, r *http.Request) {
	run, g, ok := s.game(w, r)
	if !ok {
		return
	}
	sc, err := run.ResubmitGame(r.Context(), g)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleGameGet(w http.ResponseWriter, r *http.Request) {
	run, g, ok := s.game(w, r)
	if !ok {
		return
	}
	snap, err := run.GameSnapshot(g)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGameSummary(w http.ResponseWriter, r *http.Request) {
	run, g, ok := s.game(w, r)
	if !ok {
		return
	}
	snap, err := run.GameSnapshot(g)
	if err != nil {
		writeErr(w, err)
		return
	}
	if snap.Result == nil {
		writeError(w, http.StatusConflict, "game not finished")
		return
	}
	writeJSON(w, http.StatusOK, analytics.Summarize(*snap.Result))
}

func (s *Server) handleAudiometryStart(w http.ResponseWriter, r *http.Request) {
	run := s.run(w, r)
	if run == nil {
		return
	}
	st, err := run.StartAudiometry()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type respondRequest struct {
	Heard *bool `json:"heard"`
}

func (s *Server) handleAudiometryRespond(w http.ResponseWriter, r *http.Request) {
	run := s.run(w, r)
	if run == nil {
		return
	}
	var req respondRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Heard == nil {
		writeError(w, http.StatusBadRequest, "heard is required")
		return
	}
	st, err := run.RespondAudiometry(r.Context(), *req.Heard)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAudiometrySkip(w http.ResponseWriter, r *http.Request) {
	run := s.run(w, r)
	if run == nil {
		return
	}
	st, err := run.SkipAudiometry()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAudiometryGet(w http.ResponseWriter, r *http.Request) {
	run := s.run(w, r)
	if run == nil {
		return
	}
	st, err := run.AudiometryState()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSpeechStart(w http.ResponseWriter, r *http.Request) {
	run := s.run(w, r)
	if run == nil {
		return
	}
	snap, err := run.StartSpeech(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// speechAction runs act and answers with the resulting snapshot.
func (s *Server) speechAction(w http.ResponseWriter, r *http.Request, act func(*runs.Run) error) {
	run := s.run(w, r)
	if run == nil {
		return
	}
	if err := act(run); err != nil {
		writeErr(w, err)
		return
	}
	snap, err := run.SpeechSnapshot()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSpeechStop(w http.ResponseWriter, r *http.Request) {
	s.speechAction(w, r, (*runs.Run).StopCapture)
}

func (s *Server) handleSpeechRetry(w http.ResponseWriter, r *http.Request) {
	s.speechAction(w, r, func(run *runs.Run) error { return run.RetrySpeech(r.Context()) })
}

func (s *Server) handleSpeechAbandon(w http.ResponseWriter, r *http.Request) {
	s.speechAction(w, r, (*runs.Run).AbandonSpeech)
}

func (s *Server) handleSpeechGet(w http.ResponseWriter, r *http.Request) {
	s.speechAction(w, r, func(*runs.Run) error { return nil })
}
