// Package session persists chat sessions as JSON files.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidID is returned for ids that are not safe file names.
	ErrInvalidID = errors.New("invalid session id")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id can name a session.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// Store handles persistence of sessions. Writes to one session are
// serialized; different sessions proceed in parallel.
type Store struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a session store under dir.
func NewStore(dir string) *Store {
	return &Store{
		basePath: dir,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Store) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Store) path(id string) string {
	return filepath.Join(s.basePath, id+".json")
}

// Create starts a new session with a generated id.
func (s *Store) Create(personaID string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		PersonaID: personaID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Load retrieves a session. Returns ErrNotFound when it does not exist.
func (s *Store) Load(id string) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	unlock := s.lock(id)
	defer unlock()
	return s.load(id)
}

func (s *Store) load(id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// save writes atomically through a temp file.
func (s *Store) save(sess *Session) error {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(s.basePath, sess.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(sess.ID)); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Append adds a message to a session, creating the session on first use,
// and returns the stored message with its assigned id.
func (s *Store) Append(id string, role engine.MessageRole, content string) (Message, error) {
	if !ValidID(id) {
		return Message{}, ErrInvalidID
	}
	if err := (engine.Message{Role: role, Content: content}).Validate(); err != nil {
		return Message{}, err
	}

	unlock := s.lock(id)
	defer unlock()

	sess, err := s.load(id)
	if errors.Is(err, ErrNotFound) {
		now := time.Now().UTC()
		sess = &Session{ID: id, CreatedAt: now, UpdatedAt: now}
	} else if err != nil {
		return Message{}, err
	}

	msg := sess.append(role, content, time.Now().UTC())
	if err := s.save(sess); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// SetPersona records the persona a session was last used with.
func (s *Store) SetPersona(id, personaID string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	unlock := s.lock(id)
	defer unlock()

	sess, err := s.load(id)
	if err != nil {
		return err
	}
	if sess.PersonaID == personaID {
		return nil
	}
	sess.PersonaID = personaID
	return s.save(sess)
}

// History returns the context window for the next turn: the last limit
// messages, then trimmed to maxChars. A missing session has no history.
func (s *Store) History(id string, limit, maxChars int) ([]Message, error) {
	sess, err := s.Load(id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return TruncateByChars(Recent(sess.Messages, limit), maxChars), nil
}

// List returns session metadata, most recently updated first.
func (s *Store) List(limit int) ([]SessionMeta, error) {
	entries, err := os.ReadDir(s.basePath)
	if os.IsNotExist(err) {
		return []SessionMeta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list session directory: %w", err)
	}

	sessions := []SessionMeta{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sess, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue // unreadable or foreign file
		}
		sessions = append(sessions, sess.Meta())
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}
