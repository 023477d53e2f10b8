// Package migrations embeds the schema migrations for convsync.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
