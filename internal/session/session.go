// Package session manages client sessions for the HTTP surface. Each session
// owns one proximity resolver, which lives exactly as long as the session.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/proximity"
)

var (
	// ErrNotFound is returned for unknown or closed session ids.
	ErrNotFound = eris.New("session: not found")
	// ErrTooManySessions is returned when the session limit is reached.
	ErrTooManySessions = eris.New("session: too many sessions")
	// ErrRateLimited is returned when position updates arrive too fast.
	ErrRateLimited = eris.New("session: position updates rate limited")
	// ErrInvalidPosition is returned for coordinates outside the WGS84 range.
	ErrInvalidPosition = eris.New("session: invalid position")
	// ErrInvalidPreferences is returned for a non-positive search radius.
	ErrInvalidPreferences = eris.New("session: invalid preferences")
)

// Config bounds the sessions a Manager hands out.
type Config struct {
	MaxSessions   int
	PositionRate  float64
	PositionBurst int
	IdleTimeout   time.Duration
	Preferences   model.Preferences
}

// Info describes a session.
type Info struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	LastSeen    time.Time         `json:"last_seen"`
	Position    *model.Position   `json:"position,omitempty"`
	Preferences model.Preferences `json:"preferences"`
	Ready       bool              `json:"ready"`
}

// Session is one client's view of the antennas around it.
type Session struct {
	id        string
	createdAt time.Time
	resolver  *proximity.Resolver
	limiter   *rate.Limiter
	now       func() time.Time

	mu       sync.Mutex
	lastSeen time.Time
	position *model.Position
	prefs    model.Preferences
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UpdatePosition feeds a new observer fix to the session's resolver.
func (s *Session) UpdatePosition(pos model.Position) error {
	if !pos.Valid() {
		return ErrInvalidPosition
	}
	if !s.limiter.Allow() {
		return ErrRateLimited
	}
	s.mu.Lock()
	s.position = &pos
	s.lastSeen = s.now()
	s.mu.Unlock()

	s.resolver.SetObserverPosition(pos)
	return nil
}

// UpdatePreferences replaces the session preferences.
func (s *Session) UpdatePreferences(p model.Preferences) error {
	if p.MaxDistance <= 0 {
		return ErrInvalidPreferences
	}
	s.mu.Lock()
	s.prefs = p
	s.lastSeen = s.now()
	s.mu.Unlock()

	s.resolver.SetPreferences(p)
	return nil
}

// Preferences returns the current preferences.
func (s *Session) Preferences() model.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Results returns the latest published list.
func (s *Session) Results() ([]proximity.Listed, bool) {
	s.touch()
	return s.resolver.Latest()
}

// Ready is closed once the first list has been published.
func (s *Session) Ready() <-chan struct{} {
	return s.resolver.Ready()
}

// Refresh recomputes the list.
func (s *Session) Refresh() {
	s.touch()
	s.resolver.Refresh()
}

// Reset forgets cached classifications and recomputes the list.
func (s *Session) Reset() {
	s.touch()
	s.resolver.Reset()
}

// Info returns a description of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:          s.id,
		CreatedAt:   s.createdAt,
		LastSeen:    s.lastSeen,
		Preferences: s.prefs,
	}
	if s.position != nil {
		pos := *s.position
		info.Position = &pos
	}
	select {
	case <-s.resolver.Ready():
		info.Ready = true
	default:
	}
	return info
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Manager creates, tracks and tears down sessions.
type Manager struct {
	source proximity.Source
	oracle proximity.Oracle
	cfg    Config
	opts   []proximity.Option
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager whose sessions query source and oracle. opts
// are applied to every resolver.
func NewManager(source proximity.Source, oracle proximity.Oracle, cfg Config, opts ...proximity.Option) *Manager {
	if cfg.PositionRate <= 0 {
		cfg.PositionRate = 5
	}
	if cfg.PositionBurst <= 0 {
		cfg.PositionBurst = 10
	}
	if cfg.Preferences.MaxDistance <= 0 {
		cfg.Preferences = model.DefaultPreferences()
	}
	return &Manager{
		source:   source,
		oracle:   oracle,
		cfg:      cfg,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "session")),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create opens a new session with its own resolver.
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	// The session preferences go last so shared resolver options cannot override them.
	opts := append(append([]proximity.Option(nil), m.opts...), proximity.WithPreferences(m.cfg.Preferences))
	now := m.now()
	s := &Session{
		id:        uuid.NewString(),
		createdAt: now,
		lastSeen:  now,
		resolver:  proximity.New(m.source, m.oracle, opts...),
		limiter:   rate.NewLimiter(rate.Limit(m.cfg.PositionRate), m.cfg.PositionBurst),
		now:       m.now,
		prefs:     m.cfg.Preferences,
	}
	s.resolver.Start(context.Background())
	m.sessions[s.id] = s

	m.log.Info("session opened", zap.String("session", s.id), zap.Int("sessions", len(m.sessions)))
	return s, nil
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Close tears down a session and its resolver.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.resolver.Close()
	m.log.Info("session closed", zap.String("session", id))
	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List returns every open session, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, len(sessions))
	for i, s := range sessions {
		infos[i] = s.Info()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Reap closes sessions idle for longer than the idle timeout and returns how
// many were closed.
func (m *Manager) Reap() int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	closed := 0
	for _, id := range stale {
		if m.Close(id) == nil {
			closed++
		}
	}
	if closed > 0 {
		m.log.Info("reaped idle sessions", zap.Int("closed", closed))
	}
	return closed
}

// Run reaps idle sessions every interval until ctx is done, then closes all
// remaining sessions.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer m.CloseAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap()
		}
	}
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.resolver.Close()
	}
}
