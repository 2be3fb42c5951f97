// Package migrations embeds the per-driver schema migrations.
package migrations

import "embed"

//go:embed sqlite3/*.sql postgres/*.sql
var FS embed.FS
