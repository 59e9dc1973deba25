package migrations

import "embed"

// FS holds the golang-migrate source files applied by cmd/migrate.
//
//go:embed *.sql
var FS embed.FS
