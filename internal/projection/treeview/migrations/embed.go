package migrations

import "embed"

// FS contains embedded SQLite migrations for the tree-view read model.
//
//go:embed *.sql
var FS embed.FS
