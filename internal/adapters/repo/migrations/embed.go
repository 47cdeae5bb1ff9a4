package migrations

import "embed"

// Postgres содержит миграции для Postgres.
//
//go:embed postgres/*.sql
var Postgres embed.FS

// SQLite содержит миграции для SQLite.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
