// Package migrations embeds the engine's SQL schema migrations.
package migrations

import "embed"

// FS holds the engine schema migrations.
//
//go:embed *.sql
var FS embed.FS
