// Package preserve holds a still-open live connection and its session
// snapshot across a view transition. One process-wide slot, last write wins:
// the slot must outlive the orchestrator instance that filled it.
package preserve

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/velora-health/velora/pkg/errorsx"
	"github.com/velora-health/velora/pkg/logging"
	"github.com/velora-health/velora/pkg/session"
)

// Slot is the preserved triple: the open connection handle, the restorable
// orchestrator snapshot, and the context fingerprint for staleness checks.
type Slot struct {
	Client      session.LiveClient
	Snapshot    session.Snapshot
	Fingerprint string
	SavedAt     time.Time
}

// Store is a single-slot preservation store.
type Store struct {
	mu     sync.Mutex
	slot   *Slot
	logger *slog.Logger
}

func NewStore() *Store {
	return &Store{logger: logging.NewComponentLogger(slog.Default(), "preserve")}
}

// defaultStore is the process-wide slot.
var defaultStore = NewStore()

// Default returns the process-wide store.
func Default() *Store { return defaultStore }

// Save detaches the client's event handler and stores the triple,
// overwriting any previous entry.
func (s *Store) Save(client session.LiveClient, snap session.Snapshot, fingerprint string) {
	client.SetHandler(nil)
	s.mu.Lock()
	overwrote := s.slot != nil
	s.slot = &Slot{
		Client:      client,
		Snapshot:    snap,
		Fingerprint: fingerprint,
		SavedAt:     time.Now(),
	}
	s.mu.Unlock()
	s.logger.Info("session_preserved",
		slog.String("session_id", snap.Session.ID),
		slog.Bool("overwrote", overwrote))
}

// Has reports whether a preserved session exists. Pure presence check, no
// liveness probe.
func (s *Store) Has() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot != nil
}

// Resume validates the preserved connection and hands the slot back,
// clearing it. A dead connection is an error and the slot is kept, so the
// caller can decide to fall back to a fresh session and clear explicitly.
func (s *Store) Resume() (Slot, error) {
	s.mu.Lock()
	slot := s.slot
	s.mu.Unlock()

	if slot == nil {
		return Slot{}, errorsx.Wrap(errors.New("no preserved session"), errorsx.ReasonResumeEmptySlot)
	}
	if !slot.Client.Healthy() {
		return Slot{}, errorsx.Wrap(errors.New("preserved connection is no longer healthy"), errorsx.ReasonResumeDeadConnection)
	}

	s.mu.Lock()
	// Clear only if nothing replaced the slot while we probed.
	if s.slot == slot {
		s.slot = nil
	}
	s.mu.Unlock()
	s.logger.Info("session_resumed", slog.String("session_id", slot.Snapshot.Session.ID))
	return *slot, nil
}

// Clear drops any preserved session. Called unconditionally on normal
// session end so a stale handle never outlives its session.
func (s *Store) Clear() {
	s.mu.Lock()
	had := s.slot != nil
	s.slot = nil
	s.mu.Unlock()
	if had {
		s.logger.Info("preserved_session_cleared")
	}
}
