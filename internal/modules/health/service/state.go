package service

import (
	"sync"
	"sync/atomic"
	"time"

	"alpha_bot/internal/models"
)

// StatusFunc — снимок состояний аккаунтов от супервизора.
type StatusFunc func() []models.AccountStatus

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	mu     sync.RWMutex
	status StatusFunc
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetStatusSource(fn StatusFunc) {
	s.mu.Lock()
	s.status = fn
	s.mu.Unlock()
}

func (s *State) Accounts() []models.AccountStatus {
	s.mu.RLock()
	fn := s.status
	s.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
