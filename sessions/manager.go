package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"goeverbridge/config"
	"goeverbridge/logger"
	"goeverbridge/pipeline"
	"goeverbridge/types"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("transfer session not found")

// KV persists the identities of open sessions, so a restart resumes them.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Session is one open transfer pipeline.
type Session struct {
	ID       uuid.UUID
	Created  time.Time
	Pipeline *pipeline.Pipeline

	// first time the sweeper saw the pipeline settled
	settledAt time.Time
}

type storedSession struct {
	Identity types.TransferIdentity `json:"identity"`
	Created  time.Time              `json:"created"`
}

// Manager owns every transfer pipeline the service drives.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	deps pipeline.Deps
	kv   KV
	lggr logger.Logger
	now  func() time.Time
}

func NewManager(deps pipeline.Deps, kv KV, lggr logger.Logger) *Manager {
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
		deps:     deps,
		kv:       kv,
		lggr:     lggr.Named("sessions"),
		now:      time.Now,
	}
}

// Create starts a pipeline for id. An open session with the same identity is
// returned instead of starting a second one; created reports which happened.
func (m *Manager) Create(id types.TransferIdentity) (s *Session, created bool, err error) {
	if err := id.Validate(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	for _, existing := range m.sessions {
		if existing.Pipeline.Identity() == id {
			m.mu.Unlock()
			return existing, false, nil
		}
	}
	s, err = m.openLocked(uuid.New(), id, m.now())
	if err != nil {
		m.mu.Unlock()
		return nil, false, err
	}
	m.persistLocked()
	m.mu.Unlock()

	s.Pipeline.Init()
	m.lggr.Infow("Transfer session created", "id", s.ID, "kind", s.Pipeline.Kind(), "source", id.Source)
	return s, true, nil
}

func (m *Manager) openLocked(sid uuid.UUID, id types.TransferIdentity, created time.Time) (*Session, error) {
	p, err := pipeline.New(id, m.deps)
	if err != nil {
		return nil, err
	}
	s := &Session{ID: sid, Created: created, Pipeline: p}
	m.sessions[sid] = s
	return s, nil
}

func (m *Manager) Get(sid uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sid)
	}
	return s, nil
}

// List returns the sessions whose sender or recipient is owner, oldest first.
// An empty owner lists every session.
func (m *Manager) List(owner string) []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()

	if owner != "" {
		filtered := out[:0]
		for _, s := range out {
			d := s.Pipeline.Snapshot().Data
			if strings.EqualFold(d.LeftAddress, owner) || strings.EqualFold(d.RightAddress, owner) {
				filtered = append(filtered, s)
			}
		}
		out = filtered
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Dispose stops the session's pipeline and forgets it.
func (m *Manager) Dispose(sid uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[sid]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, sid)
	}
	delete(m.sessions, sid)
	m.persistLocked()
	m.mu.Unlock()

	s.Pipeline.Dispose()
	m.lggr.Infow("Transfer session disposed", "id", sid)
	return nil
}

// Restore reopens the sessions persisted by an earlier run.
func (m *Manager) Restore() error {
	raw, ok, err := m.kv.Get(config.SESSIONS_KEY)
	if err != nil {
		return fmt.Errorf("reading sessions: %w", err)
	}
	if !ok || raw == "" {
		return nil
	}
	var stored map[string]storedSession
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return fmt.Errorf("decoding sessions: %w", err)
	}

	var opened []*Session
	m.mu.Lock()
	for key, st := range stored {
		sid, err := uuid.Parse(key)
		if err != nil {
			m.lggr.Warnw("Skipping stored session", "id", key, "err", err)
			continue
		}
		s, err := m.openLocked(sid, st.Identity, st.Created)
		if err != nil {
			m.lggr.Warnw("Skipping stored session", "id", key, "err", err)
			continue
		}
		opened = append(opened, s)
	}
	m.persistLocked()
	m.mu.Unlock()

	for _, s := range opened {
		s.Pipeline.Init()
	}
	m.lggr.Infow("Transfer sessions restored", "count", len(opened))
	return nil
}

// Sweep disposes sessions that have been settled for longer than retention.
func (m *Manager) Sweep(retention time.Duration) int {
	now := m.now()
	var expired []uuid.UUID

	m.mu.Lock()
	for sid, s := range m.sessions {
		if !s.Pipeline.Settled() {
			continue
		}
		if s.settledAt.IsZero() {
			s.settledAt = now
		}
		if now.Sub(s.settledAt) >= retention {
			expired = append(expired, sid)
		}
	}
	m.mu.Unlock()

	for _, sid := range expired {
		if err := m.Dispose(sid); err != nil && !errors.Is(err, ErrNotFound) {
			m.lggr.Warnw("Failed to dispose settled session", "id", sid, "err", err)
		}
	}
	return len(expired)
}

// Close stops every pipeline. Sessions stay persisted and are restored on the next start.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Pipeline.Dispose()
		}(s)
	}
	wg.Wait()
}

func (m *Manager) persistLocked() {
	stored := make(map[string]storedSession, len(m.sessions))
	for sid, s := range m.sessions {
		stored[sid.String()] = storedSession{Identity: s.Pipeline.Identity(), Created: s.Created}
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		m.lggr.Errorw("Failed to encode sessions", "err", err)
		return
	}
	if err := m.kv.Set(config.SESSIONS_KEY, string(raw)); err != nil {
		m.lggr.Warnw("Failed to persist sessions", "err", err)
	}
}
