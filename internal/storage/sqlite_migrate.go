package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

const sqliteMigrateUpSeparator = "-- +migrate Up"
const sqliteMigrateDownMarker = "-- +migrate Down"

// Migration is one embedded schema migration file, split into an up and
// down section by the sql-migrate marker convention.
type Migration struct {
	ID  string
	SQL string
}

// runSQLiteMigrations applies every pending migration against connStr,
// using a throwaway connection distinct from the pooled connection the
// store itself later opens with its own pragma settings.
func runSQLiteMigrations(connStr string, migrations []Migration) error {
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer conn.Close()

	migs := &migrate.MemoryMigrationSource{Migrations: make([]*migrate.Migration, 0, len(migrations))}
	for _, m := range migrations {
		parts := strings.SplitN(m.SQL, sqliteMigrateUpSeparator, 2)
		if len(parts) != 2 {
			return fmt.Errorf("migration %s: missing %q separator", m.ID, sqliteMigrateUpSeparator)
		}

		upSQL := parts[1]
		downSQL := parts[0]
		if idx := strings.Index(downSQL, sqliteMigrateDownMarker); idx != -1 {
			downSQL = downSQL[idx+len(sqliteMigrateDownMarker):]
		} else if idx := strings.Index(upSQL, sqliteMigrateDownMarker); idx != -1 {
			downSQL = upSQL[idx+len(sqliteMigrateDownMarker):]
			upSQL = upSQL[:idx]
		}

		migs.Migrations = append(migs.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{strings.TrimSpace(upSQL)},
			Down: []string{strings.TrimSpace(downSQL)},
		})
	}

	if _, err := migrate.Exec(conn, "sqlite3", migs, migrate.Up); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
