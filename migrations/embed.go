// Package migrations embeds the SQL schema for every supported store.
package migrations

import "embed"

// FS holds one directory of goose migrations per dialect: sqlite/ and postgres/.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
