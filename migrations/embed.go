// Package migrations embeds the SQL schema of the connector's platform
// model so the binary can create its database without external files.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files. Pass it to
// (*database.DB).Migrate.
//
//go:embed *.sql
var FS embed.FS
