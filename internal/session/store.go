// Package session tracks the orchestrator instance each browser session
// owns. One session, one orchestrator: the instance is created when the
// payment UI opens, addressed by an opaque ID, and disposed explicitly or
// by the janitor once the session goes quiet.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"okoapay/internal/orchestrator"
	"okoapay/internal/pkg/utils"
)

// Store is a registry of live payment sessions.
type Store struct {
	ttl    time.Duration
	cron   *cron.Cron
	logger *zap.Logger

	mu    sync.Mutex
	items map[string]*entry
}

type entry struct {
	orc      *orchestrator.Orchestrator
	lastSeen time.Time
}

// NewStore creates a registry whose sessions expire after ttl of
// inactivity.
func NewStore(ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Store{
		ttl:    ttl,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
		items:  make(map[string]*entry),
	}
}

// Start launches the janitor that disposes idle sessions, so abandoned
// tabs cannot leak polling sessions.
func (s *Store) Start() {
	s.cron.AddFunc("0 * * * * *", func() {
		if n := s.sweep(); n > 0 {
			s.logger.Info("swept idle payment sessions", zap.Int("count", n))
		}
	})
	s.cron.Start()
}

// Stop halts the janitor and disposes every remaining session. The
// returned context is done once running jobs have finished.
func (s *Store) Stop() context.Context {
	ctx := s.cron.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.items {
		e.orc.Close()
		delete(s.items, id)
	}
	return ctx
}

// Put registers an orchestrator and returns its session ID.
func (s *Store) Put(orc *orchestrator.Orchestrator) string {
	id := utils.GenerateUUID()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = &entry{orc: orc, lastSeen: time.Now()}
	return id
}

// Get returns the session's orchestrator and refreshes its idle clock.
func (s *Store) Get(id string) (*orchestrator.Orchestrator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = time.Now()
	return e.orc, true
}

// Remove disposes a session. Safe on unknown IDs.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	e, ok := s.items[id]
	if ok {
		delete(s.items, id)
	}
	s.mu.Unlock()

	if ok {
		e.orc.Close()
	}
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) sweep() int {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	var stale []*entry
	for id, e := range s.items {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e)
			delete(s.items, id)
		}
	}
	s.mu.Unlock()

	for _, e := range stale {
		e.orc.Close()
	}
	return len(stale)
}
