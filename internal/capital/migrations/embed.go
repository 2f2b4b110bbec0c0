// Package migrations embeds the capital_reservations table schema,
// mirroring positionstore/migrations's embed-and-apply-in-order pattern.
package migrations

import "embed"

// PostgresFS embeds all capital-store PostgreSQL migration files.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS
