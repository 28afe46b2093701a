package storage

import (
	"fmt"
	"path/filepath"
)

// Backend names accepted by OpenDurable.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// OpenDurable opens the Durable area for an origin rooted at dir using the
// named backend. An empty backend selects BackendFile.
func OpenDurable(backend, dir string, maxBytes int64) (Watched, error) {
	switch backend {
	case "", BackendFile:
		return NewFileArea(filepath.Join(dir, "durable"), WithFileMaxBytes(maxBytes))
	case BackendSQLite:
		return NewSQLiteArea(filepath.Join(dir, "durable.db"), WithSQLiteMaxBytes(maxBytes))
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
