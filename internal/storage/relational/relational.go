// Package relational is the Postgres-backed implementation of the
// storage contracts (spec §4.1), grounded on
// original_source/acn/infrastructure/persistence/postgres and the teacher's
// sql.DB + lib/pq idiom (applications/jam/store_pg.go). The three atomic
// task operations (spec §4.1 points 1-3) use `SELECT ... FOR UPDATE`
// transactions for row-level serialization, the same mechanism
// applications/jam/store_pg.go's NextPending uses for its work-queue lock.
package relational

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/r3e-network/acn/internal/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Open establishes a PostgreSQL connection via sqlx and verifies
// connectivity with a ping, following the teacher's Open-then-Ping idiom
// (internal/platform/database/database.go) but returning a *sqlx.DB so
// repositories can use its struct-scanning helpers alongside raw SQL.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("relational: postgres DSN is required")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("relational: open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("relational: ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies every pending embedded migration to db and logs one info
// line when it succeeds. It is a no-op (not an error) when the schema is
// already current.
func Migrate(db *sql.DB, log *logger.Logger) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("relational: load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("relational: postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("relational: migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("relational: apply migrations: %w", err)
	}
	if log != nil {
		log.Info("relational: schema migrations applied")
	}
	return nil
}

// Store bundles the shared connection every repository embeds.
type Store struct {
	db *sqlx.DB
}

func newStore(db *sqlx.DB) Store { return Store{db: db} }
