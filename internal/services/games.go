package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"cognisafe/internal/trial"
)

type startGameRequest struct {
	UserID   string `json:"user_id"`
	GameType string `json:"game_type"`
}

type startGameResponse struct {
	SessionID string `json:"session_id"`
}

// Score is the service's evaluation of a submitted game.
type Score struct {
	GameType          string  `json:"game_type"`
	Score             float64 `json:"score"`
	Accuracy          float64 `json:"accuracy"`
	AvgReactionTimeMs float64 `json:"avg_reaction_time_ms"`
	PerformanceLevel  string  `json:"performance_level"`
}

// StartGame opens a game session and returns its token.
func (c *Client) StartGame(ctx context.Context, userID string, game trial.GameType) (string, error) {
	var resp startGameResponse
	if err := c.postJSON(ctx, "start_game", "/api/games/start", startGameRequest{UserID: userID, GameType: string(game)}, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", &TransportError{Op: "start_game", Err: fmt.Errorf("empty session id")}
	}
	return resp.SessionID, nil
}

type submitGameRequest struct {
	SessionID   string `json:"session_id"`
	GameType    string `json:"game_type"`
	Attempts    []any  `json:"attempts"`
	TotalTimeMs int64  `json:"total_time_ms"`
	Errors      int    `json:"errors"`
}

type memoryAttempt struct {
	Card1Index  int   `json:"card1_index"`
	Card2Index  int   `json:"card2_index"`
	IsMatch     bool  `json:"is_match"`
	TimeTakenMs int64 `json:"time_taken_ms"`
}

type stroopAttempt struct {
	Word           string `json:"word"`
	Color          string `json:"color"`
	UserResponse   string `json:"user_response"`
	IsCorrect      bool   `json:"is_correct"`
	ReactionTimeMs int64  `json:"reaction_time_ms"`
}

type trailAttempt struct {
	FromNode    string `json:"from_node"`
	ToNode      string `json:"to_node"`
	IsCorrect   bool   `json:"is_correct"`
	TimeTakenMs int64  `json:"time_taken_ms"`
}

type patternAttempt struct {
	Pattern        []string `json:"pattern"`
	UserAnswer     string   `json:"user_answer"`
	CorrectAnswer  string   `json:"correct_answer"`
	IsCorrect      bool     `json:"is_correct"`
	ReactionTimeMs int64    `json:"reaction_time_ms"`
}

// wireAttempt converts an attempt into the per-game shape the game
// service scores.
func wireAttempt(game trial.GameType, a trial.Attempt) any {
	switch game {
	case trial.MemoryMatch:
		c1, _ := strconv.Atoi(a.Subject)
		c2, _ := strconv.Atoi(a.Response)
		return memoryAttempt{Card1Index: c1, Card2Index: c2, IsMatch: a.Correct, TimeTakenMs: a.DurationMs}
	case trial.StroopTest:
		return stroopAttempt{Word: a.Subject, Color: a.Expected, UserResponse: a.Response, IsCorrect: a.Correct, ReactionTimeMs: a.DurationMs}
	case trial.TrailMaking:
		return trailAttempt{FromNode: a.Subject, ToNode: a.Response, IsCorrect: a.Correct, TimeTakenMs: a.DurationMs}
	case trial.PatternRecognition:
		return patternAttempt{
			Pattern:        strings.Fields(a.Subject),
			UserAnswer:     a.Response,
			CorrectAnswer:  a.Expected,
			IsCorrect:      a.Correct,
			ReactionTimeMs: a.DurationMs,
		}
	}
	return a
}

// SubmitGame sends a finished game for scoring, retrying transient
// failures. The session token makes the submission idempotent.
func (c *Client) SubmitGame(ctx context.Context, token string, res trial.Result) (Score, error) {
	body := submitGameRequest{
		SessionID:   token,
		GameType:    string(res.Game),
		Attempts:    make([]any, len(res.Attempts)),
		TotalTimeMs: res.ElapsedMs,
		Errors:      res.Errors,
	}
	for i, a := range res.Attempts {
		body.Attempts[i] = wireAttempt(res.Game, a)
	}
	return retry(ctx, c, func() (Score, error) {
		var s Score
		err := c.postJSON(ctx, "submit_game", "/api/games/submit", body, &s)
		return s, err
	})
}
