//go:build !cgo

package sqlitedriver

import (
	"database/sql"

	"modernc.org/sqlite"
)

// The pure-Go driver registers itself as "sqlite" only; the tracer opens
// "sqlite3", so register it under that name too.
func init() {
	sql.Register("sqlite3", &sqlite.Driver{})
}

// EncryptionSupported reports whether the span store can be opened with a
// PRAGMA key. Pure-Go builds carry no SQLCipher, so stores stay plaintext.
const EncryptionSupported = false
