// Package migrations embeds the goose schema files for each supported backend.
package migrations

import "embed"

// SQLite holds migrations applied by the sqlite storage on Initialize
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// ClickHouse holds migrations applied through cmd/migrate
//
//go:embed clickhouse/*.sql
var ClickHouse embed.FS
