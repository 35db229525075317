// Package sqlitestore keeps scripts in a local SQLite database, for offline
// editing. Replaced script versions are kept as zstd compressed revisions.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/klauspost/compress/zstd"
	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/helpers"
	"github.com/migadu/sieveedit/logger"
	"github.com/migadu/sieveedit/store"
	_ "modernc.org/sqlite"
)

const backend = "sqlite"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Revision is a previous version of a script.
type Revision struct {
	ID        int64
	Name      string
	Hash      string
	Content   string
	CreatedAt time.Time
}

type Store struct {
	db            *sql.DB
	keepRevisions int
	encoder       *zstd.Encoder
	decoder       *zstd.Decoder
}

var _ store.ScriptStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies pending
// migrations. keepRevisions bounds the revisions kept per script; zero
// disables revisions.
func Open(ctx context.Context, path string, keepRevisions int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		logger.Warn("SQLite store: failed to enable WAL", "path", path, "error", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	logger.Info("SQLite store: opened", "path", path, "keep_revisions", keepRevisions)
	return &Store{db: db, keepRevisions: keepRevisions, encoder: encoder, decoder: decoder}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source driver: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrationLogger{}
	// m.Close would close db as well; the source has nothing to release.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

type migrationLogger struct{}

func (l *migrationLogger) Printf(format string, v ...interface{}) {
	logger.Debug("SQLite store: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrationLogger) Verbose() bool {
	return false
}

func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

func (s *Store) ListScripts(ctx context.Context) (scripts []store.ScriptInfo, err error) {
	defer func(start time.Time) { store.Observe(backend, "list", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, `SELECT name, active FROM scripts ORDER BY name`)
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

	var updated int64
	script = &store.Script{Name: name}
	err = s.db.QueryRowContext(ctx, `SELECT content, active, updated_at FROM scripts WHERE name = ?`, name).
		Scan(&script.Content, &script.Active, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get script %s: %w", name, err)
	}
	script.UpdatedAt = time.Unix(updated, 0).UTC()
	return script, nil
}

// Hash returns the stored content hash of a script.
func (s *Store) Hash(ctx context.Context, name string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM scripts WHERE name = ?`, name).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	return hash, err
}

// PutScript stores content under name. Identical content is not rewritten;
// replaced content becomes a revision.
func (s *Store) PutScript(ctx context.Context, name, content string) (err error) {
	defer func(start time.Time) { store.Observe(backend, "put", start, err) }(time.Now())

	if err := store.ValidateName(name); err != nil {
		return err
	}
	hash := helpers.HashContent([]byte(content))
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBBeginTransactionFailed, err)
	}
	defer tx.Rollback()

	var oldContent, oldHash string
	err = tx.QueryRowContext(ctx, `SELECT content, hash FROM scripts WHERE name = ?`, name).Scan(&oldContent, &oldHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scripts (name, content, hash, active, updated_at) VALUES (?, ?, ?, 0, ?)`,
			name, content, hash, now); err != nil {
			return fmt.Errorf("failed to insert script %s: %w", name, err)
		}
	case err != nil:
		return fmt.Errorf("failed to read script %s: %w", name, err)
	case oldHash == hash:
		logger.Debug("SQLite store: content unchanged", "name", name)
		return nil
	default:
		if err := s.addRevision(ctx, tx, name, oldContent, oldHash, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE scripts SET content = ?, hash = ?, updated_at = ? WHERE name = ?`,
			content, hash, now, name); err != nil {
			return fmt.Errorf("failed to update script %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBCommitTransactionFailed, err)
	}
	return nil
}

func (s *Store) addRevision(ctx context.Context, tx *sql.Tx, name, content, hash string, now int64) error {
	if s.keepRevisions <= 0 {
		return nil
	}
	compressed := s.encoder.EncodeAll([]byte(content), nil)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO script_revisions (name, content, hash, created_at) VALUES (?, ?, ?, ?)`,
		name, compressed, hash, now); err != nil {
		return fmt.Errorf("failed to store revision of %s: %w", name, err)
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM script_revisions
		WHERE name = ? AND id NOT IN (
			SELECT id FROM script_revisions WHERE name = ? ORDER BY id DESC LIMIT ?
		)`, name, name, s.keepRevisions)
	if err != nil {
		return fmt.Errorf("failed to prune revisions of %s: %w", name, err)
	}
	return nil
}

// Revisions lists the stored revisions of a script, newest first.
func (s *Store) Revisions(ctx context.Context, name string) (revisions []Revision, err error) {
	defer func(start time.Time) { store.Observe(backend, "revisions", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, hash, created_at FROM script_revisions WHERE name = ? ORDER BY id DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions of %s: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rev        Revision
			compressed []byte
			created    int64
		)
		if err := rows.Scan(&rev.ID, &compressed, &rev.Hash, &created); err != nil {
			return nil, err
		}
		content, err := s.decoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress revision %d: %w", rev.ID, err)
		}
		rev.Name = name
		rev.Content = string(content)
		rev.CreatedAt = time.Unix(created, 0).UTC()
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

// SetActive activates name, or deactivates everything when name is empty.
func (s *Store) SetActive(ctx context.Context, name string) (err error) {
	defer func(start time.Time) { store.Observe(backend, "set_active", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBBeginTransactionFailed, err)
	}
	defer tx.Rollback()

	if name != "" {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM scripts WHERE name = ?`, name).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
		}
		if err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE scripts SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("failed to deactivate scripts: %w", err)
	}
	if name != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE scripts SET active = 1 WHERE name = ?`, name); err != nil {
			return fmt.Errorf("failed to activate %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBCommitTransactionFailed, err)
	}
	return nil
}

func (s *Store) DeleteScript(ctx context.Context, name string) (err error) {
	defer func(start time.Time) { store.Observe(backend, "delete", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBBeginTransactionFailed, err)
	}
	defer tx.Rollback()

	var active bool
	err = tx.QueryRowContext(ctx, `SELECT active FROM scripts WHERE name = ?`, name).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("%w: %s", consts.ErrActiveScript, name)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM scripts WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM script_revisions WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete revisions of %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBCommitTransactionFailed, err)
	}
	return nil
}

func (s *Store) RenameScript(ctx context.Context, oldName, newName string) (err error) {
	defer func(start time.Time) { store.Observe(backend, "rename", start, err) }(time.Now())

	if err := store.ValidateName(newName); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBBeginTransactionFailed, err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM scripts WHERE name = ?`, newName).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%w: %s", consts.ErrScriptExists, newName)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	res, err := tx.ExecContext(ctx, `UPDATE scripts SET name = ?, updated_at = ? WHERE name = ?`,
		newName, time.Now().Unix(), oldName)
	if err != nil {
		return fmt.Errorf("failed to rename %s: %w", oldName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, oldName)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE script_revisions SET name = ? WHERE name = ?`, newName, oldName); err != nil {
		return fmt.Errorf("failed to rename revisions of %s: %w", oldName, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBCommitTransactionFailed, err)
	}
	return nil
}
