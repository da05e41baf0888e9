//go:build cgo

package sqlitedriver

import (
	_ "github.com/mutecomm/go-sqlcipher/v4" // "sqlite3" driver with SQLCipher support
)

// EncryptionSupported reports whether the span store can be opened with a
// PRAGMA key. CGO builds link SQLCipher, so it can.
const EncryptionSupported = true
