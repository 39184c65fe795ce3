// Package all registers every storage backend with the storage factory.
// Binaries blank-import it so the configured kind is always available.
package all

import (
	_ "starschema/internal/storage/mssql"
	_ "starschema/internal/storage/postgres"
	_ "starschema/internal/storage/sqlite"
)
