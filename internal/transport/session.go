// Package transport implements C8: the session-bearing MCP surface.
// It wraps modelcontextprotocol/go-sdk/mcp's StreamableHTTPHandler, the way
// kagent's internal/mcp/mcp_handler.go wraps the same SDK type, and adds
// the session lifecycle (init -> open -> idle -> closing -> closed) and
// per-call timeout/cancellation semantics the SDK alone doesn't enforce.
package transport

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/metrics"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// SessionState is spec.md §4.8's state machine.
type SessionState string

const (
	SessionInit    SessionState = "init"
	SessionOpen    SessionState = "open"
	SessionIdle    SessionState = "idle"
	SessionClosing SessionState = "closing"
	SessionClosed  SessionState = "closed"
)

// Session tracks one MCP client's lifecycle.
type Session struct {
	ID            string
	State         SessionState
	LastActivity  time.Time
	RecoveryToken string
	ClosedAt      time.Time
}

// Manager owns every live Session, sweeping them through the state machine
// on a schedule (spec.md §4.8).
type Manager struct {
	mu              sync.Mutex
	sessions        map[string]*Session
	idleThreshold   time.Duration
	sessionTimeout  time.Duration
	recoveryHorizon time.Duration
	log             logr.Logger
	cron            *cron.Cron
}

// NewManager builds a Manager with the documented defaults substituted for
// any zero-valued duration (spec.md §4.8: idle_threshold unset, session_timeout
// 30m, recovery_horizon 5m).
func NewManager(idleThreshold, sessionTimeout, recoveryHorizon time.Duration, log logr.Logger) *Manager {
	if sessionTimeout <= 0 {
		sessionTimeout = 30 * time.Minute
	}
	if recoveryHorizon <= 0 {
		recoveryHorizon = 5 * time.Minute
	}
	if idleThreshold <= 0 {
		idleThreshold = 5 * time.Minute
	}
	return &Manager{
		sessions:        make(map[string]*Session),
		idleThreshold:   idleThreshold,
		sessionTimeout:  sessionTimeout,
		recoveryHorizon: recoveryHorizon,
		log:             log,
	}
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// refreshOpenCountLocked republishes the live (non-closed) session gauge.
// Callers must hold m.mu.
func (m *Manager) refreshOpenCountLocked() {
	n := 0
	for _, s := range m.sessions {
		if s.State != SessionClosed {
			n++
		}
	}
	metrics.SetSessionsOpen(n)
}

// Open creates a new Session in the "init" state, entering "open" on its
// first touch.
func (m *Manager) Open(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Session{ID: id, State: SessionInit, LastActivity: time.Now().UTC(), RecoveryToken: newToken()}
	m.sessions[id] = s
	m.refreshOpenCountLocked()
	return s
}

// Touch records activity on a session, reviving it from idle back to open.
// A session in "closing" or "closed" cannot be touched back to life — the
// caller must Recover it instead.
func (m *Manager) Touch(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, model.NewFault(model.FaultSessionExpired, id, nil)
	}
	if s.State == SessionClosing || s.State == SessionClosed {
		return nil, model.NewFault(model.FaultSessionExpired, id, nil)
	}
	s.State = SessionOpen
	s.LastActivity = time.Now().UTC()
	return s, nil
}

// Get returns a session's current snapshot without mutating it.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Recover reactivates a closed session presenting the matching
// recovery_token within recovery_horizon of closing (spec.md §4.8).
// Recovery restores the session slot but does not replay acked responses —
// this package has no response buffer to replay, so that guarantee holds
// trivially.
func (m *Manager) Recover(id, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, model.NewFault(model.FaultNotFound, id, nil)
	}
	if s.State != SessionClosed {
		return nil, model.NewFault(model.FaultInvalidParameters, "session not closed", nil)
	}
	if s.RecoveryToken != token {
		return nil, model.NewFault(model.FaultUnauthorized, "recovery token mismatch", nil)
	}
	if time.Since(s.ClosedAt) > m.recoveryHorizon {
		return nil, model.NewFault(model.FaultSessionExpired, "recovery horizon elapsed", nil)
	}
	s.State = SessionOpen
	s.LastActivity = time.Now().UTC()
	s.RecoveryToken = newToken()
	m.refreshOpenCountLocked()
	return s, nil
}

// Sweep advances every session through idle -> closing -> closed per
// elapsed inactivity, and drops sessions whose recovery horizon elapsed
// while closed. Returns sessions that newly closed this sweep, whose
// pending calls must be answered with SessionExpired.
func (m *Manager) Sweep() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var closedNow []Session
	for id, s := range m.sessions {
		switch s.State {
		case SessionOpen:
			if now.Sub(s.LastActivity) > m.idleThreshold {
				s.State = SessionIdle
			}
		case SessionIdle:
			if now.Sub(s.LastActivity) > m.sessionTimeout {
				s.State = SessionClosing
			}
		case SessionClosing:
			s.State = SessionClosed
			s.ClosedAt = now
			closedNow = append(closedNow, *s)
		case SessionClosed:
			if now.Sub(s.ClosedAt) > m.recoveryHorizon {
				delete(m.sessions, id)
			}
		}
	}
	m.refreshOpenCountLocked()
	return closedNow
}

// StartSweep schedules Sweep on a cron expression (every 10s by default).
func (m *Manager) StartSweep(spec string) error {
	if spec == "" {
		spec = "@every 10s"
	}
	m.cron = cron.New()
	_, err := m.cron.AddFunc(spec, func() {
		for _, s := range m.Sweep() {
			m.log.V(1).Info("session closed", "session_id", s.ID)
		}
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}
