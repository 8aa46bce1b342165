// Package all registers every warehouse backend.
package all

import (
	_ "sparkify/internal/warehouse/mssql"
	_ "sparkify/internal/warehouse/postgres"
	_ "sparkify/internal/warehouse/sqlite"
)
