package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steward-ai/steward/pkg/config"
	"github.com/steward-ai/steward/pkg/models"
)

// Manager persists sessions as one JSON file per key. Writes go through
// a temp file and rename so a crash never leaves a torn snapshot, and a
// per-key mutex serializes read-modify-write cycles within the process.
type Manager struct {
	dir         string
	maxMessages int

	locks   map[string]*sync.Mutex
	locksMu sync.Mutex

	now func() time.Time
}

// NewManager creates the session directory if needed and returns a
// ready manager.
func NewManager(cfg *config.SessionConfig) (*Manager, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Manager{
		dir:         cfg.Dir,
		maxMessages: cfg.MaxMessages,
		locks:       make(map[string]*sync.Mutex),
		now:         time.Now,
	}, nil
}

// Get loads the session for key. A key never written returns an empty
// session rather than an error.
func (m *Manager) Get(key string) (*Session, error) {
	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	return m.load(key)
}

// Context returns the trailing history entries for key, or nil when the
// session does not exist yet.
func (m *Manager) Context(key string) ([]models.ConversationMessage, error) {
	session, err := m.Get(key)
	if err != nil {
		return nil, err
	}
	return session.Context(), nil
}

// Append adds messages to a session's history, truncates to the
// configured bound, and writes the snapshot atomically.
func (m *Manager) Append(key string, messages ...models.ConversationMessage) error {
	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.load(key)
	if err != nil {
		return err
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = m.now()
	}
	session.Messages = append(session.Messages, messages...)
	if m.maxMessages > 0 && len(session.Messages) > m.maxMessages {
		session.Messages = session.Messages[len(session.Messages)-m.maxMessages:]
	}
	session.UpdatedAt = m.now()

	return m.write(key, session)
}

// Delete removes a session snapshot. Deleting a missing key is a no-op.
func (m *Manager) Delete(key string) error {
	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(m.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (m *Manager) load(key string) (*Session, error) {
	data, err := os.ReadFile(m.path(key))
	if os.IsNotExist(err) {
		return &Session{Key: key}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %q: %w", key, err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %q: %w", key, err)
	}
	session.Key = key
	return &session, nil
}

func (m *Manager) write(key string, session *Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %q: %w", key, err)
	}

	path := m.path(key)
	tmp, err := os.CreateTemp(m.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create session temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close session temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace session snapshot: %w", err)
	}
	return nil
}

// path maps a key to its snapshot file. Keys are opaque caller strings,
// so anything outside a conservative character set is stored under its
// hash instead of being used as a filename.
func (m *Manager) path(key string) string {
	if safeKey(key) {
		return filepath.Join(m.dir, key+".json")
	}
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(m.dir, hex.EncodeToString(sum[:16])+".json")
}

func safeKey(key string) bool {
	if key == "" || len(key) > 64 {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	// Dot-led names could collide with temp files or escape upward.
	return key[0] != '.'
}

func (m *Manager) keyLock(key string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	lock, exists := m.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}
