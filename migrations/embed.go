// Package migrations embeds the journal schema into the binary.
//
// The files follow the YYYYMMDD_HHMMSS_name.{up,down}.sql convention read by
// database.LoadMigrations.
package migrations

import "embed"

// FS holds every .sql file in this directory at the root of the filesystem.
//
//go:embed *.sql
var FS embed.FS
