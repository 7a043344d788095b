package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jconstantine618/ai-consulting-crm/internal/assistant"
	"github.com/jconstantine618/ai-consulting-crm/internal/engine"
)

var ErrClosed = errors.New("session manager closed")

type Options struct {
	Extractor      assistant.Extractor
	ExtractTimeout time.Duration
	ExecuteTimeout time.Duration
	Log            *zap.Logger
	Now            func() time.Time
}

// Session is one user's conversation and the records it resolves names against.
type Session struct {
	UserID   string
	Pipeline *assistant.Pipeline
	View     *View

	cancel   context.CancelFunc
	lastUsed time.Time
}

// Manager owns the per-user sessions of a process.
type Manager struct {
	eng  engine.Engine
	opts Options
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewManager(eng engine.Engine, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		eng:      eng,
		opts:     opts,
		log:      log.With(zap.String("component", "sessions")),
		ctx:      ctx,
		cancel:   cancel,
		sessions: map[string]*Session{},
	}
}

// Get returns the user's session, starting one if needed.
func (m *Manager) Get(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[userID]; ok {
		s.lastUsed = m.opts.Now()
		return s, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scope := m.eng.Scope(userID)
	viewCtx, cancel := context.WithCancel(m.ctx)
	view, err := Watch(viewCtx, m.eng.Store, scope, m.log)
	if err != nil {
		cancel()
		return nil, err
	}
	s := &Session{
		UserID: userID,
		View:   view,
		Pipeline: assistant.New(assistant.Options{
			Extractor:      m.opts.Extractor,
			Actions:        engine.Bind(m.eng, scope),
			Snapshot:       view,
			Log:            m.log.With(zap.String("user_id", userID)),
			Now:            m.opts.Now,
			ExtractTimeout: m.opts.ExtractTimeout,
			ExecuteTimeout: m.opts.ExecuteTimeout,
		}),
		cancel:   cancel,
		lastUsed: m.opts.Now(),
	}
	m.sessions[userID] = s
	m.log.Debug("session started", zap.String("user_id", userID))
	return s, nil
}

// Submit forwards one utterance to the user's pipeline.
func (m *Manager) Submit(ctx context.Context, userID, text string) (assistant.Reply, error) {
	s, err := m.Get(ctx, userID)
	if err != nil {
		return assistant.Reply{}, err
	}
	return s.Pipeline.Submit(ctx, text)
}

// Reset clears the user's conversation. A user without a session is a no-op.
func (m *Manager) Reset(userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Pipeline.Reset()
}

// Len reports the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep ends sessions unused for longer than idle and returns how many
// were ended. Sessions with a message in flight are kept.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.opts.Now().Add(-idle)
	m.mu.Lock()
	var ended []*Session
	for id, s := range m.sessions {
		if s.lastUsed.Before(cutoff) && !s.Pipeline.Pending() {
			delete(m.sessions, id)
			ended = append(ended, s)
		}
	}
	m.mu.Unlock()
	for _, s := range ended {
		s.cancel()
		<-s.View.Done()
	}
	if len(ended) > 0 {
		m.log.Info("idle sessions ended", zap.Int("count", len(ended)))
	}
	return len(ended)
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, idle, interval time.Duration) error {
	if idle <= 0 {
		<-ctx.Done()
		return nil
	}
	if interval <= 0 {
		interval = idle / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(idle)
		}
	}
}

// Close ends every session and waits for their views to stop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()
	m.cancel()
	for _, s := range sessions {
		<-s.View.Done()
	}
}
