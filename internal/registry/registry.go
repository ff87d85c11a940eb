// Package registry maintains the shared, best-effort view of connected
// client sessions and the single advisory write lock. The view is persisted
// as small JSON documents so a companion GUI process can observe "who is
// connected and who is writing what" without talking to the server.
//
// Every write is a full read-modify-write of the whole document. Races
// between cooperating processes can lose updates; that is accepted because
// the data is informational and staleness self-heals within one refresh
// cycle.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"pkt.systems/pslog"
)

// DefaultStaleSessionAfter is how long a session may sit without activity
// before other sessions prune it from the status document.
const DefaultStaleSessionAfter = 60 * time.Second

const statusFileName = "status.json"

// Session is one connected client process's identity and liveness record.
type Session struct {
	SessionID     string    `json:"sessionId"`
	ClientName    string    `json:"clientName"`
	PID           int32     `json:"pid"`
	StartedAt     time.Time `json:"startedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	ToolCallCount int       `json:"toolCallCount"`
	Active        bool      `json:"active"`
}

// Lock marks an in-progress write to one site. At most one is active across
// all sessions; it is advisory and carries no expiry of its own.
type Lock struct {
	SessionID  string    `json:"sessionId"`
	ClientName string    `json:"clientName"`
	PID        int32     `json:"pid"`
	Site       string    `json:"site"`
	Operation  string    `json:"operation"`
	StartedAt  time.Time `json:"startedAt"`
}

// LastLock is the informational remainder of the previous lock cycle,
// overwritten by the next one.
type LastLock struct {
	Lock
	ClearedAt  time.Time `json:"clearedAt"`
	DurationMS int64     `json:"duration"`
}

// StatusDocument is the persisted shape of the shared status file.
type StatusDocument struct {
	Clients    []Session `json:"clients"`
	ActiveLock *Lock     `json:"activeLock,omitempty"`
	LastLock   *LastLock `json:"lastLock,omitempty"`
}

// Store reads and writes the status document for one data directory.
type Store struct {
	dir        string
	logger     pslog.Logger
	staleAfter time.Duration

	// pidAlive is swappable so tests can simulate dead owners.
	pidAlive func(pid int32) bool
	now      func() time.Time
}

// Option adjusts Store construction.
type Option func(*Store)

// WithStaleSessionAfter overrides the session staleness threshold.
func WithStaleSessionAfter(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithPIDProbe overrides the process liveness probe.
func WithPIDProbe(probe func(pid int32) bool) Option {
	return func(s *Store) {
		if probe != nil {
			s.pidAlive = probe
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns a Store persisting under dir. The directory is created on
// first write.
func NewStore(dir string, logger pslog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	s := &Store{
		dir:        dir,
		logger:     logger,
		staleAfter: DefaultStaleSessionAfter,
		pidAlive:   pidExists,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func pidExists(pid int32) bool {
	ok, err := process.PidExists(pid)
	if err != nil {
		// An unreadable process table must not cause a session purge.
		return true
	}
	return ok
}

// Path returns the status file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, statusFileName)
}

// Read loads the current status document. A missing file yields an empty
// document; a corrupt file is logged and treated as empty (single
// format-detection fallback, no migration).
func (s *Store) Read() (StatusDocument, error) {
	var doc StatusDocument
	raw, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("read status: %w", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("registry.status.corrupt", "path", s.Path(), "error", err)
		return StatusDocument{}, nil
	}
	return doc, nil
}

// RegisterOrRefresh upserts the calling session: existing entries for the
// same session id are dropped, entries whose owning PID is dead or whose
// last activity exceeds the staleness threshold are pruned, and the fresh
// record is appended. A lock owned by a pruned session is cleared with it.
func (s *Store) RegisterOrRefresh(sess Session) error {
	return s.update(func(doc *StatusDocument) {
		now := s.now()
		kept := doc.Clients[:0]
		for _, c := range doc.Clients {
			if c.SessionID == sess.SessionID {
				continue
			}
			if !s.pidAlive(c.PID) {
				s.logger.Debug("registry.session.pruned_dead", "session_id", c.SessionID, "pid", c.PID)
				s.dropLockOwnedBy(doc, c.SessionID, now)
				continue
			}
			if now.Sub(c.LastActivity) > s.staleAfter {
				s.logger.Debug("registry.session.pruned_stale", "session_id", c.SessionID,
					"idle", now.Sub(c.LastActivity).String())
				s.dropLockOwnedBy(doc, c.SessionID, now)
				continue
			}
			kept = append(kept, c)
		}
		doc.Clients = append(kept, sess)
	})
}

// Remove drops the matching session entry and clears the lock if that
// session owned it.
func (s *Store) Remove(sessionID string) error {
	return s.update(func(doc *StatusDocument) {
		kept := doc.Clients[:0]
		for _, c := range doc.Clients {
			if c.SessionID != sessionID {
				kept = append(kept, c)
			}
		}
		doc.Clients = kept
		s.dropLockOwnedBy(doc, sessionID, s.now())
	})
}

// SetLock publishes the advisory write lock. An existing lock held by a
// live session for a different session id is replaced anyway: the lock is
// advisory and the execution queue, not this file, is what serializes
// writes inside the process.
func (s *Store) SetLock(l Lock) error {
	if l.StartedAt.IsZero() {
		l.StartedAt = s.now()
	}
	return s.update(func(doc *StatusDocument) {
		doc.ActiveLock = &l
	})
}

// ClearLock demotes the active lock to lastLock when owned by sessionID.
// Callers must reach this on every exit path of a write operation.
func (s *Store) ClearLock(sessionID string) error {
	return s.update(func(doc *StatusDocument) {
		s.dropLockOwnedBy(doc, sessionID, s.now())
	})
}

func (s *Store) dropLockOwnedBy(doc *StatusDocument, sessionID string, now time.Time) {
	if doc.ActiveLock == nil || doc.ActiveLock.SessionID != sessionID {
		return
	}
	doc.LastLock = &LastLock{
		Lock:       *doc.ActiveLock,
		ClearedAt:  now,
		DurationMS: now.Sub(doc.ActiveLock.StartedAt).Milliseconds(),
	}
	doc.ActiveLock = nil
}

func (s *Store) update(mutate func(*StatusDocument)) error {
	doc, err := s.Read()
	if err != nil {
		s.logger.Warn("registry.status.read_failed", "error", err)
		doc = StatusDocument{}
	}
	mutate(&doc)
	if err := writeJSONFile(s.dir, s.Path(), doc); err != nil {
		s.logger.Warn("registry.status.write_failed", "error", err)
		return err
	}
	return nil
}
