package migrations

import "embed"

// FS contains embedded SQLite migrations for the tag-index read model.
//
//go:embed *.sql
var FS embed.FS
