// Package migrations embeds the engine's PostgreSQL schema migrations so the
// migrate tool and the integration tests apply the same files.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files of this directory
//
//go:embed *.sql
var FS embed.FS
