// Package migrations embeds the versioned schema migration files so the
// gateway's migration runner (internal/gateway.Migrate) ships inside the
// compiled binary rather than depending on a filesystem path at deploy
// time, the same embed.FS pattern used elsewhere in this codebase for
// embedded static assets. Each dialect gets its own subdirectory
// (postgres/, mssql/) since the DDL itself isn't portable between them;
// the caller picks the subdirectory matching the configured store's
// dialect.
package migrations

import "embed"

//go:embed postgres/*.sql mssql/*.sql
var FS embed.FS
