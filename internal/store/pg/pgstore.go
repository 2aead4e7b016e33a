package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tenantgov.org/internal/apperr"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded schema for migrate.Manager.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrSerialization       = "40001"
	pgErrDeadlock            = "40P01"
)

// Store owns the connection pool shared by the adapters.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.Unavailable("pg: ping", err)
	}
	return nil
}

func (s *Store) Chain() *ChainStore { return NewChainStore(s.db) }

func (s *Store) Licenses(planTTL time.Duration) *LicenseStore { return NewLicenseStore(s.db, planTTL) }

func (s *Store) Idempotency() *IdempotencyCache { return NewIdempotencyCache(s.db) }

func (s *Store) Roles() *RoleStore { return NewRoleStore(s.db) }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapError classifies driver errors. Unknown failures are treated as the
// database being unavailable.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return apperr.Wrap(apperr.CodeConflict, op+": duplicate row", err)
		case pgErrForeignKeyViolation:
			return apperr.Wrap(apperr.CodeNotFound, op+": referenced row missing", err)
		case pgErrSerialization, pgErrDeadlock:
			return apperr.Wrap(apperr.CodeUnavailable, op+": transaction aborted", err)
		}
	}
	return apperr.Unavailable(op, err)
}
