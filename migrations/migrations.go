// Package migrations embeds the policy table schema, one directory per SQL
// dialect. Files are templates: {{table}} is replaced with the validated
// policy table name when applied.
package migrations

import "embed"

// Embedded migration files bundled at compile time
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
