// Package migrations embeds the bridge's SQL migration files into the binary
// so a fresh install needs nothing on disk but its config.
package migrations

import "embed"

// FS holds every migration file at its root.
//
//go:embed *.sql
var FS embed.FS
