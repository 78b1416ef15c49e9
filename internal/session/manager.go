package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrEnded         = errors.New("session ended")
	ErrTurnInFlight  = errors.New("a turn is already in flight for this session")
	ErrNoActiveTurn  = errors.New("no turn in flight for this session")
	ErrInvalidTurnID = errors.New("turn id is required")
)

type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id,omitempty"`
	Status         Status    `json:"status"`
	ActiveTurnID   string    `json:"active_turn_id,omitempty"`
	TurnCount      int       `json:"turn_count"`
	CancelCount    int       `json:"cancel_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Manager tracks live sessions and the single in-flight turn each may
// have. Turns for one session are serialized here: BeginTurn refuses a
// second turn until EndTurn is called for the first.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	cancels           map[string]context.CancelFunc
	inactivityTimeout time.Duration
	onExpire          func(*Session)
	now               func() time.Time
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		cancels:           make(map[string]context.CancelFunc),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.createLocked(uuid.NewString(), userID))
}

// Ensure returns the session with the given id, creating it when it does
// not exist yet. An ended session is reopened. An empty id creates a new
// session with a generated id.
func (m *Manager) Ensure(sessionID string) *Session {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return clone(m.createLocked(sessionID, ""))
	}
	if s.Status == StatusEnded {
		s.Status = StatusActive
	}
	s.LastActivityAt = m.now()
	return clone(s)
}

func (m *Manager) createLocked(id, userID string) *Session {
	now := m.now()
	s := &Session{
		ID:             id,
		UserID:         userID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[id] = s
	return s
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// BeginTurn marks turnID as the session's in-flight turn. cancel is
// invoked by Cancel or End while the turn runs.
func (m *Manager) BeginTurn(sessionID, turnID string, cancel context.CancelFunc) error {
	if turnID == "" {
		return ErrInvalidTurnID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusActive {
		return ErrEnded
	}
	if s.ActiveTurnID != "" {
		return ErrTurnInFlight
	}
	s.ActiveTurnID = turnID
	s.TurnCount++
	s.LastActivityAt = m.now()
	if cancel != nil {
		m.cancels[sessionID] = cancel
	}
	return nil
}

// EndTurn clears the in-flight turn if it is still turnID.
func (m *Manager) EndTurn(sessionID, turnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.ActiveTurnID != turnID {
		return
	}
	s.ActiveTurnID = ""
	s.LastActivityAt = m.now()
	delete(m.cancels, sessionID)
}

// Cancel stops the in-flight turn and returns its id. The turn stays
// registered until its runner calls EndTurn.
func (m *Manager) Cancel(sessionID string) (string, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return "", ErrNotFound
	}
	if s.ActiveTurnID == "" {
		m.mu.Unlock()
		return "", ErrNoActiveTurn
	}
	turnID := s.ActiveTurnID
	s.CancelCount++
	s.LastActivityAt = m.now()
	cancel := m.cancels[sessionID]
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return turnID, nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.LastActivityAt = m.now()
	cancel := m.cancels[sessionID]
	out := clone(s)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return out, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// expireInactive ends idle sessions and forgets sessions that ended a full
// timeout ago. Sessions with a turn in flight are never expired.
func (m *Manager) expireInactive() {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		idle := now.Sub(s.LastActivityAt)
		if s.Status == StatusEnded {
			if idle >= m.inactivityTimeout && s.ActiveTurnID == "" {
				delete(m.sessions, id)
			}
			continue
		}
		if s.ActiveTurnID != "" || idle < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
