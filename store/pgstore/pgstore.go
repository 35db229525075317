// Package pgstore edits scripts directly in a sieve_scripts table, scoped to
// a single account.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/helpers"
	"github.com/migadu/sieveedit/logger"
	"github.com/migadu/sieveedit/store"
)

const backend = "postgres"

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	pool      *pgxpool.Pool
	accountID int64
}

var _ store.ScriptStore = (*Store)(nil)

// Open connects to dsn. The schema is expected to exist; see Migrate.
func Open(ctx context.Context, dsn string, accountID int64) (*Store, error) {
	if accountID <= 0 {
		return nil, fmt.Errorf("invalid account id %d", accountID)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("PostgreSQL store: connected", "account_id", accountID)
	return &Store{pool: pool, accountID: accountID}, nil
}

// Migrate creates the sieve_scripts table when it does not exist.
func Migrate(ctx context.Context, dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sql.DB for migrations: %w", err)
	}
	defer sqlDB.Close()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source driver: %w", err)
	}
	driver, err := pgxv5.WithInstance(sqlDB, &pgxv5.Config{MigrationsTable: "sieveedit_schema_migrations"})
	if err != nil {
		return fmt.Errorf("failed to create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	logger.Info("PostgreSQL store: schema up to date")
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) ListScripts(ctx context.Context) (scripts []store.ScriptInfo, err error) {
	defer func(start time.Time) { store.Observe(backend, "list", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, "SELECT name, active FROM sieve_scripts WHERE account_id = $1 ORDER BY name", s.accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var info store.ScriptInfo
		if err := rows.Scan(&info.Name, &info.Active); err != nil {
			return nil, err
		}
		scripts = append(scripts, info)
	}
	return scripts, rows.Err()
}

func (s *Store) GetScript(ctx context.Context, name string) (script *store.Script, err error) {
	defer func(start time.Time) { store.Observe(backend, "get", start, err) }(time.Now())

	script = &store.Script{Name: name}
	err = s.pool.QueryRow(ctx, "SELECT script, active, updated_at FROM sieve_scripts WHERE name = $1 AND account_id = $2",
		name, s.accountID).Scan(&script.Content, &script.Active, &script.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get script %s: %w", name, err)
	}
	return script, nil
}

// PutScript upserts a script. NULL bytes and invalid UTF-8 are stripped,
// PostgreSQL text columns reject them.
func (s *Store) PutScript(ctx context.Context, name, content string) (err error) {
	defer func(start time.Time) { store.Observe(backend, "put", start, err) }(time.Now())

	if err := store.ValidateName(name); err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sieve_scripts (account_id, name, script, active)
		VALUES ($1, $2, $3, false)
		ON CONFLICT (account_id, name) DO UPDATE SET script = EXCLUDED.script, updated_at = now()
		WHERE sieve_scripts.script IS DISTINCT FROM EXCLUDED.script
	`, s.accountID, name, helpers.SanitizeScript(content))
	if err != nil {
		return fmt.Errorf("failed to store script %s: %w", name, err)
	}
	return nil
}

// SetActive deactivates the other scripts before activating name, in one
// transaction, so the partial unique index on active holds throughout.
func (s *Store) SetActive(ctx context.Context, name string) (err error) {
	defer func(start time.Time) { store.Observe(backend, "set_active", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBBeginTransactionFailed, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "UPDATE sieve_scripts SET active = false, updated_at = now() WHERE account_id = $1 AND active = true", s.accountID); err != nil {
		return fmt.Errorf("failed to deactivate other scripts: %w", err)
	}
	if name != "" {
		tag, err := tx.Exec(ctx, "UPDATE sieve_scripts SET active = true, updated_at = now() WHERE name = $1 AND account_id = $2", name, s.accountID)
		if err != nil {
			return fmt.Errorf("failed to activate %s: %w", name, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBCommitTransactionFailed, err)
	}
	return nil
}

func (s *Store) DeleteScript(ctx context.Context, name string) (err error) {
	defer func(start time.Time) { store.Observe(backend, "delete", start, err) }(time.Now())

	var active bool
	err = s.pool.QueryRow(ctx, "SELECT active FROM sieve_scripts WHERE name = $1 AND account_id = $2", name, s.accountID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("%w: %s", consts.ErrActiveScript, name)
	}

	// active = false guards against a concurrent activation.
	tag, err := s.pool.Exec(ctx, "DELETE FROM sieve_scripts WHERE name = $1 AND account_id = $2 AND active = false", name, s.accountID)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", consts.ErrActiveScript, name)
	}
	return nil
}

func (s *Store) RenameScript(ctx context.Context, oldName, newName string) (err error) {
	defer func(start time.Time) { store.Observe(backend, "rename", start, err) }(time.Now())

	if err := store.ValidateName(newName); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, "UPDATE sieve_scripts SET name = $1, updated_at = now() WHERE name = $2 AND account_id = $3",
		newName, oldName, s.accountID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", consts.ErrScriptExists, newName)
	}
	if err != nil {
		return fmt.Errorf("failed to rename %s: %w", oldName, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, oldName)
	}
	return nil
}
