package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/micro-nova/statekit/internal/events"
)

const entryExt = ".entry"

// FileArea is a Durable area stored as one file per key in a directory.
// Every process that opens the same directory shares the area. Writes go
// through a temp file and a rename, so readers never see a partial value.
//
// A directory watcher turns writes by other handles into Change events.
// Writes made through this handle are not reported back to it.
type FileArea struct {
	dir      string
	origin   string
	maxBytes int64

	mu    sync.Mutex
	known map[string]string // last value seen or written per key

	bus       *events.Bus[Change]
	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

// FileOption configures a FileArea.
type FileOption func(*FileArea)

// WithFileMaxBytes sets the area quota. Values <= 0 keep DefaultMaxBytes.
func WithFileMaxBytes(n int64) FileOption {
	return func(a *FileArea) {
		if n > 0 {
			a.maxBytes = n
		}
	}
}

// NewFileArea opens (creating if needed) the area rooted at dir.
// If the directory watcher cannot be created the area still works, but
// changes from other contexts are not reported.
func NewFileArea(dir string, opts ...FileOption) (*FileArea, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: create area dir: %w", err)
	}
	a := &FileArea{
		dir:      dir,
		origin:   uuid.NewString(),
		maxBytes: DefaultMaxBytes,
		known:    make(map[string]string),
		bus:      events.NewBus[Change](),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.prime(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("storage: could not create fsnotify watcher", "dir", dir, "err", err)
		close(a.done)
		return a, nil
	}
	if err := watcher.Add(dir); err != nil {
		slog.Warn("storage: could not watch area dir", "dir", dir, "err", err)
		watcher.Close()
		close(a.done)
		return a, nil
	}
	a.watcher = watcher
	go a.watchLoop()
	return a, nil
}

// Dir returns the directory backing the area.
func (a *FileArea) Dir() string { return a.dir }

// Origin returns the identifier of this handle.
func (a *FileArea) Origin() string { return a.origin }

func (a *FileArea) Kind() Kind { return Durable }

func (a *FileArea) GetItem(key string) (string, bool, error) {
	if err := validKey(key); err != nil {
		return "", false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", false, ErrClosed
	}
	data, err := os.ReadFile(a.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: read %q: %w", key, err)
	}
	return string(data), true, nil
}

func (a *FileArea) SetItem(key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}

	used, err := a.usage(key)
	if err != nil {
		return err
	}
	if used+int64(len(key)+len(value)) > a.maxBytes {
		return ErrQuotaExceeded
	}

	// Record first so the watcher recognises the event as our own.
	prev, hadPrev := a.known[key]
	a.known[key] = value
	if err := a.writeAtomic(key, value); err != nil {
		if hadPrev {
			a.known[key] = prev
		} else {
			delete(a.known, key)
		}
		return err
	}
	return nil
}

func (a *FileArea) RemoveItem(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	delete(a.known, key)
	if err := os.Remove(a.pathFor(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove %q: %w", key, err)
	}
	return nil
}

// Subscribe registers for changes made by other contexts.
func (a *FileArea) Subscribe(id string) <-chan Change { return a.bus.Subscribe(id) }

// SubscribeKey registers for changes of one key made by other contexts.
func (a *FileArea) SubscribeKey(id, key string) <-chan Change {
	return a.bus.SubscribeFunc(id, keyFilter(key))
}

// Unsubscribe removes a subscription and closes its channel.
func (a *FileArea) Unsubscribe(id string) { a.bus.Unsubscribe(id) }

// Close stops the watcher and closes all subscriptions. Files are kept.
func (a *FileArea) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		if a.watcher != nil {
			err = a.watcher.Close()
		}
		<-a.done
		a.bus.Close()
	})
	return err
}

func (a *FileArea) pathFor(key string) string {
	return filepath.Join(a.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+entryExt)
}

// keyFor maps an entry file name back to its key. Temp files and foreign
// files report ok=false.
func keyFor(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, entryExt) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(base, entryExt))
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

// prime loads the current entries so the first external change carries the
// right OldValue.
func (a *FileArea) prime() error {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return fmt.Errorf("storage: read area dir: %w", err)
	}
	for _, e := range entries {
		key, ok := keyFor(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(a.dir, e.Name()))
		if err != nil {
			continue
		}
		a.known[key] = string(data)
	}
	return nil
}

// usage sums key and value bytes of every entry except skip.
func (a *FileArea) usage(skip string) (int64, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, fmt.Errorf("storage: read area dir: %w", err)
	}
	var total int64
	for _, e := range entries {
		key, ok := keyFor(e.Name())
		if !ok || key == skip || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += int64(len(key)) + info.Size()
	}
	return total, nil
}

func (a *FileArea) writeAtomic(key, value string) error {
	tmp, err := os.CreateTemp(a.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: write %q: %w", key, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("storage: write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: write %q: %w", key, err)
	}
	// Rename is atomic on the same filesystem.
	if err := os.Rename(tmpPath, a.pathFor(key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: write %q: %w", key, err)
	}
	return nil
}

func (a *FileArea) watchLoop() {
	defer close(a.done)
	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			key, ok := keyFor(event.Name)
			if !ok {
				continue
			}
			if change, ok := a.reconcile(key); ok {
				slog.Debug("storage: external change", "dir", a.dir, "key", key, "removed", change.Removed())
				a.bus.Publish(change)
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("storage: watcher error", "dir", a.dir, "err", err)
		}
	}
}

// reconcile compares the file on disk with the last known value for key and
// returns the resulting change, if any. Events that leave the value as this
// handle last saw it (including our own writes) produce nothing.
func (a *FileArea) reconcile(key string) (Change, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return Change{}, false
	}
	prev, hadPrev := a.known[key]
	data, err := os.ReadFile(a.pathFor(key))
	switch {
	case errors.Is(err, os.ErrNotExist):
		if !hadPrev {
			return Change{}, false
		}
		delete(a.known, key)
		return Change{Key: key, OldValue: strPtr(prev)}, true
	case err != nil:
		slog.Warn("storage: read changed entry", "key", key, "err", err)
		return Change{}, false
	}
	cur := string(data)
	if hadPrev && cur == prev {
		return Change{}, false
	}
	a.known[key] = cur
	c := Change{Key: key, NewValue: strPtr(cur)}
	if hadPrev {
		c.OldValue = strPtr(prev)
	}
	return c, true
}

var _ Watched = (*FileArea)(nil)
