// Package session holds the in-memory registry of conversation sessions.
// Sessions live for the duration of the process; there is no delete path.
package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Message is one entry in a session's ordered conversation log.
type Message struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Record is a loosely-typed artifact attached to a session by a
// collaborating subsystem (diagram generation, ingestion). Every record
// carries an "id" key; the rest of the payload is opaque to the gateway.
type Record map[string]any

// Session is one user conversation/workspace. Sequences are append-only
// and keep arrival order.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	Images       []Record  `json:"images"`
	Diagrams     []Record  `json:"diagrams"`
	Plans        []Record  `json:"plans"`
	SourceRepo   *string   `json:"source_repo"`
	SourceCommit *string   `json:"source_commit"`
}

// Store is a mutex-guarded map of sessions. All access, reads included,
// serializes through one lock; session traffic is nowhere near hot enough
// to justify anything cleverer.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Create inserts an empty session under a fresh id and returns a copy.
func (s *Store) Create() Session {
	id := uuid.New().String()
	sess := &Session{
		ID:       id,
		Title:    "Session " + id[:8],
		Messages: []Message{},
		Images:   []Record{},
		Diagrams: []Record{},
		Plans:    []Record{},
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	return cloneSession(sess)
}

// Get returns a copy of the session, so callers never touch store-owned
// memory outside the lock.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return cloneSession(sess), true
}

// AppendMessage adds a message with a fresh id to the session's log.
func (s *Store) AppendMessage(id, content string) (Message, error) {
	msg := Message{ID: uuid.New().String(), Content: content}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	sess.Messages = append(sess.Messages, msg)
	return msg, nil
}

// AppendImage attaches an ingestion result to a session. This is the
// best-effort landing point for job completion: a missing session is
// logged at debug level and otherwise ignored. The parameter is the
// plain map type so the method value satisfies the job store's notifier
// signature without an adapter.
func (s *Store) AppendImage(id string, payload map[string]any) {
	rec := withID(Record(payload))

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		s.logger.Debug("dropping image record for unknown session", "session_id", id)
		return
	}
	sess.Images = append(sess.Images, rec)
}

// AppendDiagram records a generated diagram on the session.
func (s *Store) AppendDiagram(id string, rec Record) (Record, error) {
	return s.appendRecord(id, rec, func(sess *Session, r Record) {
		sess.Diagrams = append(sess.Diagrams, r)
	})
}

// AppendPlan records a generated plan on the session.
func (s *Store) AppendPlan(id string, rec Record) (Record, error) {
	return s.appendRecord(id, rec, func(sess *Session, r Record) {
		sess.Plans = append(sess.Plans, r)
	})
}

func (s *Store) appendRecord(id string, rec Record, attach func(*Session, Record)) (Record, error) {
	rec = withID(rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	attach(sess, rec)
	return cloneRecord(rec), nil
}

// SetSource records repository provenance on the session.
func (s *Store) SetSource(id, repo, commit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if repo != "" {
		sess.SourceRepo = &repo
	}
	if commit != "" {
		sess.SourceCommit = &commit
	}
	return nil
}

// Count reports the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// withID copies rec and guarantees an "id" key.
func withID(rec Record) Record {
	out := cloneRecord(rec)
	if out == nil {
		out = Record{}
	}
	if _, ok := out["id"]; !ok {
		out["id"] = uuid.New().String()
	}
	return out
}

func cloneRecord(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func cloneSession(sess *Session) Session {
	out := *sess
	out.Messages = append([]Message(nil), sess.Messages...)
	out.Images = cloneRecords(sess.Images)
	out.Diagrams = cloneRecords(sess.Diagrams)
	out.Plans = cloneRecords(sess.Plans)
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	return out
}

func cloneRecords(recs []Record) []Record {
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = cloneRecord(r)
	}
	return out
}
