package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
)

const (
	sessionFileExt = ".session"
	cookieFileExt  = ".cookies"
)

var nonWord = regexp.MustCompile(`\W`)

// SafeName strips every non-word character from identity to form a file name.
// Distinct identities may collide; the mapping is not reversible.
func SafeName(identity string) string {
	return nonWord.ReplaceAllString(identity, "")
}

// Store persists session records and cookie jars under one directory.
//
// Files are created with 0600 permissions inside a 0700 directory. Token
// values are never logged.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("session directory must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// SessionPath returns the session record path for identity.
func (s *Store) SessionPath(identity string) string {
	return filepath.Join(s.dir, SafeName(identity)+sessionFileExt)
}

// CookiePath returns the cookie jar path for identity.
func (s *Store) CookiePath(identity string) string {
	return filepath.Join(s.dir, SafeName(identity)+cookieFileExt)
}

// Load reads the session record for identity. A missing or corrupt record
// yields an empty State; corruption is logged.
func (s *Store) Load(identity string) State {
	var state State
	path := s.SessionPath(identity)

	// #nosec G304 -- path is derived from the sanitized identity
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Failed to read session file", "path", path, "error", err)
		}
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("Session file is corrupt, starting with an empty session", "path", path, "error", err)
		return State{}
	}
	s.logger.Debug("Loaded session", "path", path)
	return state
}

// Save writes the session record for identity.
func (s *Store) Save(identity string, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := writeFileAtomic(s.SessionPath(identity), data); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	s.logger.Debug("Saved session", "path", s.SessionPath(identity))
	return nil
}

// Remove deletes both durable records of identity.
func (s *Store) Remove(identity string) error {
	for _, path := range []string{s.SessionPath(identity), s.CookiePath(identity)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

// writeFileAtomic writes data to a temp file next to path and renames it into
// place, leaving the previous content intact on failure.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""
	return nil
}
