package storage

import "fmt"

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"

	DefaultSQLitePath = "lagsearch.db"
)

// DefaultStoreKind is sqlite in builds tagged sqlite and memory otherwise.
func DefaultStoreKind() string {
	return defaultBackend
}

// NewStore builds an uninitialized store. An empty kind selects memory; an
// empty sqlite path selects DefaultSQLitePath.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if sqlitePath == "" {
			sqlitePath = DefaultSQLitePath
		}
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
