// Package migrations embeds the service's SQL migration files into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-serialbus/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Source is passed to database.DB.Migrate at startup.
var Source = database.MigrationSource{FS: files, Dir: "."}
