// Package migrations embeds the calsync schema.
package migrations

import "embed"

// Files holds the ordered NNN_name.sql scripts applied by store.ApplyMigrations.
//
//go:embed *.sql
var Files embed.FS
