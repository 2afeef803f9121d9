//go:build sqlite

package storage

const defaultBackend = BackendSQLite

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}
