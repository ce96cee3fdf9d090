package impersonate

import (
	"embed"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the users, impersonation_sessions and
// impersonation_audit_entries migrations, one directory per dialect.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
