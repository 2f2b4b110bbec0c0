// Package migrations embeds the positions table schema, mirroring
// internal/storage/migrations's embed-and-apply-in-order pattern.
package migrations

import "embed"

// PostgresFS embeds all position-store PostgreSQL migration files.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS
