// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code.
//
// STORES:
// One *DB owns the connection pool. Each table gets a small store type
// (UserDB, DealDB, ...) so that method names like Create and Delete don't
// collide across repository interfaces:
//
//	db, _ := sqlite.New("data/revtrack.db")
//	users := db.Users()          // repository.UserRepository
//	deals := db.Deals()          // repository.DealRepository
//	activities := db.Activities() // repository.ActivityRepository
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/revtrack.db" → file-based database (persistent)
//   - ":memory:"         → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would be a separate, empty
	// database. A single connection keeps tests and the CLI consistent; the
	// sync job is sequential anyway.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while the sync job writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. Deleting a deal must take
	// its activities with it.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping backs the health check.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Users() *UserDB           { return &UserDB{conn: db.conn} }
func (db *DB) Deals() *DealDB           { return &DealDB{conn: db.conn} }
func (db *DB) Activities() *ActivityDB  { return &ActivityDB{conn: db.conn} }
func (db *DB) Goals() *GoalDB           { return &GoalDB{conn: db.conn} }
func (db *DB) MailTokens() *MailTokenDB { return &MailTokenDB{conn: db.conn} }

// migrate creates all tables. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			full_name     TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS deals (
			id                  TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title               TEXT NOT NULL,
			company             TEXT NOT NULL DEFAULT '',
			contact_name        TEXT NOT NULL DEFAULT '',
			contact_email       TEXT,
			value               REAL NOT NULL DEFAULT 0,
			stage               TEXT NOT NULL,
			probability         INTEGER NOT NULL DEFAULT 0,
			expected_close_date TEXT,
			notes               TEXT,
			created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_deals_user_id ON deals(user_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating deals table: %w", err)
	}

	// The partial unique index is the authoritative dedup guard for synced
	// mail; the existence check in the sync job only saves a write.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS activities (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			deal_id     TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
			type        TEXT NOT NULL,
			title       TEXT NOT NULL,
			body        TEXT,
			external_id TEXT,
			occurred_at DATETIME NOT NULL,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_activities_deal ON activities(deal_id, occurred_at);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_activities_deal_external
			ON activities(deal_id, external_id) WHERE external_id IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("creating activities table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS goals (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			year           INTEGER NOT NULL,
			target_revenue REAL NOT NULL,
			period_type    TEXT NOT NULL,
			period_start   TEXT NOT NULL,
			period_end     TEXT NOT NULL,
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, period_start, period_end)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating goals table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS mail_tokens (
			user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			provider      TEXT NOT NULL,
			account_email TEXT NOT NULL DEFAULT '',
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at    DATETIME NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, provider)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating mail_tokens table: %w", err)
	}

	return nil
}
