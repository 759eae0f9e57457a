package runs

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"cognisafe/internal/session"
)

const sweepInterval = 5 * time.Minute

type Store struct {
	mu   sync.Mutex
	runs map[string]*Run
	deps Deps
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

// NewStore starts a sweeper that closes runs idle for longer than ttl.
func NewStore(deps Deps, ttl time.Duration) *Store {
	s := &Store{
		runs: make(map[string]*Run),
		deps: deps,
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go s.sweepStale()
	return s
}

// Create opens a run for userID. An empty userID gets a generated one.
func (s *Store) Create(userID string) (*Run, error) {
	if userID == "" {
		userID = uuid.NewString()
	}
	run, err := s.insert(userID)
	if err != nil {
		return nil, err
	}
	if j := s.deps.Journal; j != nil {
		if err := j.UpsertParticipant(userID); err != nil {
			log.Printf("[Runs] Journal participant %s: %v\n", userID, err)
		}
	}
	return run, nil
}

func (s *Store) insert(userID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Try up to 10 times to generate a unique code
	for range 10 {
		code, err := GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("generating run code: %w", err)
		}
		if _, exists := s.runs[code]; exists {
			continue
		}
		sc := session.Context{
			RunID:     uuid.NewString(),
			UserID:    userID,
			CreatedAt: s.deps.Clock.Now(),
		}
		run := newRun(code, sc, s.deps)
		s.runs[code] = run
		log.Printf("[Runs] Created run %s for user %s\n", code, userID)
		return run, nil
	}
	return nil, fmt.Errorf("failed to generate unique run code after 10 attempts")
}

func (s *Store) Get(code string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[NormalizeCode(code)]
}

// Delete closes and forgets a run. It reports whether the run existed.
func (s *Store) Delete(code string) bool {
	code = NormalizeCode(code)
	s.mu.Lock()
	run, ok := s.runs[code]
	delete(s.runs, code)
	s.mu.Unlock()
	if ok {
		s.release(run)
	}
	return ok
}

func (s *Store) List() []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		list = append(list, r)
	}
	return list
}

// Close stops the sweeper and closes every run.
func (s *Store) Close() {
	s.once.Do(func() { close(s.stop) })
	s.mu.Lock()
	runs := s.runs
	s.runs = make(map[string]*Run)
	s.mu.Unlock()
	for _, r := range runs {
		s.release(r)
	}
}

func (s *Store) release(r *Run) {
	r.Close()
	s.deps.Hub.Remove(r.Code)
}

// Sweep closes runs idle since before now-ttl and returns how many.
func (s *Store) Sweep() int {
	now := s.deps.Clock.Now()
	var stale []*Run
	s.mu.Lock()
	for code, r := range s.runs {
		if now.Sub(r.idleSince()) > s.ttl {
			stale = append(stale, r)
			delete(s.runs, code)
		}
	}
	s.mu.Unlock()
	for _, r := range stale {
		log.Printf("[Runs] Sweeping stale run %s\n", r.Code)
		s.release(r)
	}
	return len(stale)
}

func (s *Store) sweepStale() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
