package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRunInProgress   = errors.New("an agent run is already in progress for this session")
)

// Conversation is an append-only transcript
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
}

// Snapshot returns a copy of the transcript that callers may keep
func (c *Conversation) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Append adds messages to the end of the transcript
func (c *Conversation) Append(msgs ...Message) error {
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.messages = append(c.messages, msgs...)
	c.mu.Unlock()
	return nil
}

// Len returns the number of messages
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Reset clears the transcript
func (c *Conversation) Reset() {
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()
}

// Session is one browser tab's worth of state: a transcript, at most one
// audio clip and the single-run guard.
type Session struct {
	ID        string
	CreatedAt time.Time

	Conversation *Conversation

	mu      sync.Mutex
	audio   *AudioPayload
	running bool
}

// NewSession creates an empty session with a fresh id
func NewSession() *Session {
	return &Session{
		ID:           uuid.New().String(),
		CreatedAt:    time.Now(),
		Conversation: &Conversation{},
	}
}

// Audio returns the attached clip, or nil
func (s *Session) Audio() *AudioPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// SetAudio attaches a clip (nil removes it). A new clip starts a new
// conversation. Refused while a run is active.
func (s *Session) SetAudio(audio *AudioPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunInProgress
	}
	s.audio = audio
	s.Conversation.Reset()
	return nil
}

// TryBeginRun marks the session busy. It returns false if a run is already active.
func (s *Session) TryBeginRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

// EndRun releases the run guard
func (s *Session) EndRun() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Running reports whether a run is active
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Registry holds live sessions in memory
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new session
func (r *Registry) Create() *Session {
	s := NewSession()
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get looks a session up by id
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete drops a session. Deleting an unknown id is not an error.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
