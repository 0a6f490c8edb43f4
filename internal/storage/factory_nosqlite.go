//go:build !sqlite

package storage

import "fmt"

func DefaultStoreKind() string {
	return "memory"
}

func newSQLiteStore(_ string, _ bool) (Store, error) {
	return nil, fmt.Errorf("sqlite backend unavailable in this build; rebuild with -tags sqlite")
}
