package migrations

import "embed"

// FS contains embedded SQLite migrations for pattern storage.
//
//go:embed *.sql
var FS embed.FS
