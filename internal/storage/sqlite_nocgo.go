//go:build !cgo
// +build !cgo

package storage

// Without cgo the go-sqlite3 driver is a stub that cannot open a database,
// so no sqlite3.Error can ever be produced.
func isConstraintErr(err error) bool {
	return false
}
