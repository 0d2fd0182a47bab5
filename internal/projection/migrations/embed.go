package migrations

import "embed"

// FS contains the embedded checkpoint-table migration shared by all projections.
//
//go:embed *.sql
var FS embed.FS
