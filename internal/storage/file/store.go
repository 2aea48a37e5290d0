// Package file keeps the token pair in a JSON file shared by CLI invocations.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dtroode/storefront-session/internal/logger"
	"github.com/dtroode/storefront-session/internal/model"
)

const fileMode = 0o600

// Store is a model.TokenStore backed by a JSON file.
// Writes go to a temporary file that is renamed over the target.
type Store struct {
	path   string
	logger *logger.Logger

	mu        sync.Mutex
	hasTokens bool
}

// NewStore creates a Store for path.
func NewStore(path string, logger *logger.Logger) *Store {
	return &Store{path: filepath.Clean(path), logger: logger}
}

// Path returns the file the pair is kept in.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load(ctx context.Context) (model.TokenPair, error) {
	pair, err := s.read()
	if err != nil {
		return model.TokenPair{}, err
	}
	if pair.IsZero() {
		return model.TokenPair{}, model.ErrNotFound
	}
	return pair, nil
}

func (s *Store) Save(ctx context.Context, pair model.TokenPair) error {
	data, err := json.MarshalIndent(pair, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set token file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write tokens: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync tokens: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	s.hasTokens = !pair.IsZero()

	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hasTokens = false
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

// Watch calls onCleared whenever another process removes or empties the
// token file. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onCleared func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	// The directory is watched because renames replace the file inode.
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s.mu.Lock()
	pair, err := s.read()
	s.hasTokens = err == nil && !pair.IsZero()
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "File store: watching token file",
		"path", s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if s.clearedExternally() {
				s.logger.InfoContext(ctx, "File store: token file cleared by another process",
					"path", s.path,
					"op", ev.Op.String())
				onCleared()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.WarnContext(ctx, "File store: watcher error",
				"error", err.Error())
		}
	}
}

// clearedExternally reports a transition from stored tokens to none that
// this Store did not make itself.
func (s *Store) clearedExternally() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, err := s.read()
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return false
	}
	has := err == nil && !pair.IsZero()
	if s.hasTokens && !has {
		s.hasTokens = false
		return true
	}
	s.hasTokens = has
	return false
}

func (s *Store) read() (model.TokenPair, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.TokenPair{}, model.ErrNotFound
		}
		return model.TokenPair{}, fmt.Errorf("failed to read token file: %w", err)
	}
	if len(data) == 0 {
		return model.TokenPair{}, model.ErrNotFound
	}

	var pair model.TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return model.TokenPair{}, fmt.Errorf("failed to decode token file: %w", err)
	}
	return pair, nil
}
