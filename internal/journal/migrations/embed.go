// Package migrations embeds the trades table and trade_ledger schemas,
// mirroring positionstore/migrations's embed-and-apply-in-order pattern.
package migrations

import "embed"

// PostgresFS embeds all trade-journal PostgreSQL migration files.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the trade_ledger analytics-export migration files.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
