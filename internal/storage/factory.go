package storage

import "fmt"

// NewStore builds a store backend. compress selects snappy-encoded payloads
// for the sqlite backend.
func NewStore(kind, sqlitePath string, compress bool) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath, compress)
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
