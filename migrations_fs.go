// Package shopifyapp embeds the SQL schema for the session and installation
// stores. Dialect alternatives live under data/sql/migrations/sqlite.
package shopifyapp

import (
	"embed"
	"io/fs"
)

//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the full embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
