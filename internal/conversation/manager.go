package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/pitchside-ai/pitchside/internal/extract"
	"github.com/pitchside-ai/pitchside/internal/observe"
	"github.com/pitchside-ai/pitchside/internal/resilience"
	"github.com/pitchside-ai/pitchside/internal/schema"
	"github.com/pitchside-ai/pitchside/internal/segment"
	"github.com/pitchside-ai/pitchside/internal/voicecmd"
	"github.com/pitchside-ai/pitchside/pkg/provider/stt"
)

// ErrSessionNotFound is returned for commands addressing an unknown or
// already-terminated session id.
var ErrSessionNotFound = errors.New("conversation: session not found")

// Deps holds the collaborators shared by every session.
type Deps struct {
	// Schemas resolves activity types to their field definitions.
	Schemas *schema.Registry

	// Transcriber is the speech-to-text provider chain.
	Transcriber *resilience.FallbackGroup[stt.Provider]

	// Extractor turns transcripts into typed field deltas.
	Extractor *extract.Extractor

	// CancelPhrases detects spoken cancel commands. Optional.
	CancelPhrases *voicecmd.Filter

	// Emitter receives prompts and terminal results.
	Emitter Emitter

	// Archiver persists terminated sessions.
	Archiver Archiver

	// Metrics records engine telemetry. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// NewBuffer creates the per-session utterance buffer.
	NewBuffer func() (*segment.Buffer, error)

	// Config tunes the per-session decision rules.
	Config Config

	// onDone is set by the Manager to reap terminated sessions.
	onDone func(sessionID string)
}

// Manager is the multi-session registry. Its only lock guards the session
// map; everything per-session happens inside that session's actor, so no
// lock ever spans more than one session.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager validates deps and creates an empty registry.
func NewManager(deps Deps) (*Manager, error) {
	switch {
	case deps.Schemas == nil:
		return nil, fmt.Errorf("conversation: schemas must not be nil")
	case deps.Transcriber == nil:
		return nil, fmt.Errorf("conversation: transcriber must not be nil")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("conversation: extractor must not be nil")
	case deps.Emitter == nil:
		return nil, fmt.Errorf("conversation: emitter must not be nil")
	case deps.Archiver == nil:
		return nil, fmt.Errorf("conversation: archiver must not be nil")
	case deps.NewBuffer == nil:
		return nil, fmt.Errorf("conversation: buffer factory must not be nil")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	m := &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
	m.deps.onDone = m.remove
	return m, nil
}

// Open allocates a new session for userID and activityType and returns its
// id. The session's actor goroutine starts immediately.
func (m *Manager) Open(ctx context.Context, userID string, activityType schema.ActivityType) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sc, err := m.deps.Schemas.Lookup(activityType)
	if err != nil {
		return "", err
	}
	buffer, err := m.deps.NewBuffer()
	if err != nil {
		return "", fmt.Errorf("conversation: create buffer: %w", err)
	}

	id := uuid.NewString()
	s := newSession(id, userID, sc, buffer, m.deps)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = buffer.Close()
		return "", fmt.Errorf("conversation: manager closed")
	}
	m.sessions[id] = s
	m.mu.Unlock()

	s.start()
	slog.Info("session opened",
		"session_id", id,
		"user_id", userID,
		"activity_type", activityType,
	)
	return id, nil
}

// PushChunk appends audio bytes to the session's utterance buffer.
func (m *Manager) PushChunk(ctx context.Context, sessionID string, chunk []byte) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return s.PushChunk(ctx, chunk)
}

// EndUtterance marks the buffered audio complete and processes one turn.
func (m *Manager) EndUtterance(ctx context.Context, sessionID string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return s.EndUtterance(ctx)
}

// Cancel abandons the session immediately.
func (m *Manager) Cancel(sessionID string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	s.Cancel()
	return nil
}

// Status returns the session's current snapshot.
func (m *Manager) Status(sessionID string) (Status, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close cancels every live session and waits for their actors to finish or
// ctx to expire.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.Cancel()
	}
	for _, s := range live {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) lookup(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// remove reaps a terminated session from the registry.
func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}
