// Package auth guards the HTTP API with access keys read from a tokens file.
//
// With no tokens file (or an empty one) the API is open. The file is watched
// and reloaded on change, so keys can be rotated without a restart.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// TokensFileName is the tokens file looked up in the data directory.
const TokensFileName = "tokens.yaml"

// Token is one named access key.
type Token struct {
	Key      string `yaml:"key"`
	ReadOnly bool   `yaml:"read_only"`
}

// Service verifies access keys against the tokens file.
type Service struct {
	path string

	mu     sync.RWMutex
	tokens map[string]Token

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewService loads dir/tokens.yaml and watches it for changes.
func NewService(dir string) (*Service, error) {
	s := &Service{
		path:   filepath.Join(dir, TokensFileName),
		tokens: make(map[string]Token),
		done:   make(chan struct{}),
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("auth: could not create fsnotify watcher", "err", err)
		close(s.done)
		return s, nil
	}
	if err := watcher.Add(dir); err != nil {
		slog.Warn("auth: could not watch data dir", "dir", dir, "err", err)
		watcher.Close()
		close(s.done)
		return s, nil
	}
	s.watcher = watcher
	go s.watchLoop()
	return s, nil
}

// Reload re-reads the tokens file. A missing file opens the API.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.tokens = make(map[string]Token)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("auth: read %s: %w", s.path, err)
	}

	tokens := make(map[string]Token)
	if err := yaml.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("auth: parse %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
	slog.Debug("auth: reloaded tokens", "count", len(tokens))
	return nil
}

// IsOpenMode reports whether no tokens are configured.
func (s *Service) IsOpenMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens) == 0
}

// Lookup returns the token whose key matches. Comparison is constant time.
func (s *Service) Lookup(key string) (name string, tok Token, ok bool) {
	if key == "" {
		return "", Token{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for n, t := range s.tokens {
		if t.Key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(t.Key)) == 1 {
			return n, t, true
		}
	}
	return "", Token{}, false
}

// Close stops the file watcher. It is safe to call more than once.
func (s *Service) Close() {
	s.once.Do(func() {
		if s.watcher != nil {
			s.watcher.Close()
		}
		<-s.done
	})
}

func (s *Service) watchLoop() {
	defer close(s.done)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if err := s.Reload(); err != nil {
				// Keep the previous tokens rather than opening the API.
				slog.Warn("auth: failed to reload tokens", "err", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("auth: watcher error", "err", err)
		}
	}
}
