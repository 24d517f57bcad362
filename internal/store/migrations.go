package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "initial_schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS price_observations (
				id                   INTEGER PRIMARY KEY AUTOINCREMENT,
				departure_date       TEXT NOT NULL,
				return_date          TEXT NOT NULL,
				inbound_airport      TEXT NOT NULL,
				outbound_airport     TEXT NOT NULL,
				routing_description  TEXT NOT NULL DEFAULT '',
				total_price          REAL NOT NULL CHECK (total_price >= 0),
				currency             TEXT NOT NULL DEFAULT 'USD',
				outbound_flight_data TEXT,
				return_flight_data   TEXT,
				booking_url          TEXT NOT NULL DEFAULT '',
				flight_numbers       TEXT NOT NULL DEFAULT '',
				airlines             TEXT NOT NULL DEFAULT '',
				checked_date         TEXT NOT NULL,
				created_at           DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_observations_route ON price_observations(departure_date, return_date)`,
			`CREATE INDEX IF NOT EXISTS idx_observations_checked ON price_observations(checked_date)`,

			`CREATE TABLE IF NOT EXISTS daily_best (
				checked_date        TEXT PRIMARY KEY,
				best_price          REAL NOT NULL CHECK (best_price >= 0),
				currency            TEXT NOT NULL DEFAULT 'USD',
				departure_date      TEXT NOT NULL,
				return_date         TEXT NOT NULL,
				inbound_airport     TEXT NOT NULL,
				outbound_airport    TEXT NOT NULL,
				routing_description TEXT NOT NULL DEFAULT '',
				observation_id      INTEGER NOT NULL REFERENCES price_observations(id),
				updated_at          DATETIME NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS hotel_observations (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				city            TEXT NOT NULL,
				check_in_date   TEXT NOT NULL,
				check_out_date  TEXT NOT NULL,
				hotel_name      TEXT NOT NULL DEFAULT '',
				price_per_night REAL NOT NULL CHECK (price_per_night >= 0),
				total_price     REAL NOT NULL CHECK (total_price >= 0),
				currency        TEXT NOT NULL DEFAULT 'USD',
				hotel_data      TEXT,
				checked_date    TEXT NOT NULL,
				created_at      DATETIME NOT NULL,
				UNIQUE(city, check_in_date, check_out_date, hotel_name)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_hotels_city_dates ON hotel_observations(city, check_in_date, check_out_date)`,
		},
	},
}

// migrate applies every migration not yet recorded in schema_migrations,
// each in its own transaction.
func migrate(db *sqlx.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := db.Get(&count, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func applyMigration(db *sqlx.DB, m migration) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
