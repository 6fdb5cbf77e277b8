// Package session holds per-conversation state: the transcript, the
// requirements gathered so far, and the last search result.
package session

import (
	"sync"
	"time"

	"github.com/rfvalente/morada/models"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one transcript entry.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Store hands out sessions by id.
type Store interface {
	// Ensure returns the session for id, creating one (with a fresh id when
	// id is empty) if absent.
	Ensure(id string) *Session
	// Get returns the session for id if it is live.
	Get(id string) (*Session, bool)
	// Len is the number of live sessions.
	Len() int
}

// Session is one conversation's state. The mutex guards data access only;
// callers must not hold it across network I/O.
type Session struct {
	id string

	mu           sync.Mutex
	transcript   []Turn
	requirements models.Requirements
	complete     bool
	lastResult   *models.SearchResult
	lastCity     string
}

func New(id string) *Session {
	return &Session{id: id}
}

func (s *Session) ID() string { return s.id }

// AppendUser records a user turn.
func (s *Session) AppendUser(content string) { s.append(RoleUser, content) }

// AppendAssistant records an assistant turn.
func (s *Session) AppendAssistant(content string) { s.append(RoleAssistant, content) }

func (s *Session) append(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, Turn{Role: role, Content: content, At: time.Now()})
}

// Transcript returns a copy of the transcript.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Requirements returns the gathered requirements and whether scoping has
// declared them complete.
func (s *Session) Requirements() (models.Requirements, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requirements, s.complete
}

// SetRequirements replaces the gathered requirements.
func (s *Session) SetRequirements(req models.Requirements, complete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requirements = req
	s.complete = complete
}

// LastResult returns the most recent search result, nil before the first
// completed search.
func (s *Session) LastResult() *models.SearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *Session) SetLastResult(res *models.SearchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = res
}

// LastCity is the city of the most recent search. Follow-up questions about
// "the area" resolve against it.
func (s *Session) LastCity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCity
}

func (s *Session) SetLastCity(city string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if city != "" {
		s.lastCity = city
	}
}
