package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/terravet/terravet/pkg/fault"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration. Zero values for the pool
// settings fall back to the defaults applied in NewSQLiteStore.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode. The pragmas
// go through the DSN so every pooled connection gets them; busy_timeout
// in particular is what lets concurrent writers queue instead of
// failing with SQLITE_BUSY.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection is alive.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateTemplate inserts a new template record.
func (s *SQLiteStore) CreateTemplate(ctx context.Context, t *Template) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	query := `
		INSERT INTO templates (id, name, description, provider, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Name, t.Description, t.Provider, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	return s.getTemplate(ctx, "id = ?", id)
}

// GetTemplateByName retrieves a template by its unique name.
func (s *SQLiteStore) GetTemplateByName(ctx context.Context, name string) (*Template, error) {
	return s.getTemplate(ctx, "name = ?", name)
}

func (s *SQLiteStore) getTemplate(ctx context.Context, where string, arg interface{}) (*Template, error) {
	query := `
		SELECT id, name, description, provider, created_at, updated_at
		FROM templates
		WHERE ` + where

	t := &Template{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&t.ID, &t.Name, &t.Description, &t.Provider, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

// ListTemplates lists all templates ordered by name.
func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	query := `
		SELECT id, name, description, provider, created_at, updated_at
		FROM templates
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := []*Template{}
	for rows.Next() {
		t := &Template{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Provider, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// DeleteTemplate removes a template and, via cascade, its versions,
// sessions, and snapshots.
func (s *SQLiteStore) DeleteTemplate(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateVersion appends the next version for a template. The version
// number is allocated inside a serializable transaction so concurrent
// writers cannot produce duplicates; the UNIQUE constraint backstops
// the allocation.
func (s *SQLiteStore) CreateVersion(ctx context.Context, templateID, content, description string) (*TemplateVersion, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	v := &TemplateVersion{
		ID:          uuid.New().String(),
		TemplateID:  templateID,
		Content:     content,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	query := `
		INSERT INTO template_versions (id, template_id, version, content, description, created_at)
		SELECT ?, ?, COALESCE(MAX(version), 0) + 1, ?, ?, ?
		FROM template_versions
		WHERE template_id = ?
	`
	_, err = tx.ExecContext(ctx, query,
		v.ID, templateID, content, description, v.CreatedAt, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to create version: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT version FROM template_versions WHERE id = ?`, v.ID).Scan(&v.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to read back version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE templates SET updated_at = ? WHERE id = ?`, v.CreatedAt, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to touch template: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit version: %w", err)
	}
	return v, nil
}

// GetVersion retrieves a specific version of a template.
func (s *SQLiteStore) GetVersion(ctx context.Context, templateID string, version int) (*TemplateVersion, error) {
	query := `
		SELECT id, template_id, version, content, description, created_at
		FROM template_versions
		WHERE template_id = ? AND version = ?
	`
	v := &TemplateVersion{}
	err := s.db.QueryRowContext(ctx, query, templateID, version).Scan(
		&v.ID, &v.TemplateID, &v.Version, &v.Content, &v.Description, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %d of template %s: %w", version, templateID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

// GetLatestVersion retrieves the highest version of a template.
func (s *SQLiteStore) GetLatestVersion(ctx context.Context, templateID string) (*TemplateVersion, error) {
	query := `
		SELECT id, template_id, version, content, description, created_at
		FROM template_versions
		WHERE template_id = ?
		ORDER BY version DESC
		LIMIT 1
	`
	v := &TemplateVersion{}
	err := s.db.QueryRowContext(ctx, query, templateID).Scan(
		&v.ID, &v.TemplateID, &v.Version, &v.Content, &v.Description, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s has no versions: %w", templateID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}
	return v, nil
}

// ListVersions lists all versions of a template, newest first.
func (s *SQLiteStore) ListVersions(ctx context.Context, templateID string) ([]*TemplateVersion, error) {
	query := `
		SELECT id, template_id, version, content, description, created_at
		FROM template_versions
		WHERE template_id = ?
		ORDER BY version DESC
	`
	rows, err := s.db.QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := []*TemplateVersion{}
	for rows.Next() {
		v := &TemplateVersion{}
		if err := rows.Scan(&v.ID, &v.TemplateID, &v.Version, &v.Content, &v.Description, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	if sess.ChangesJSON == "" {
		sess.ChangesJSON = "[]"
	}
	if sess.AppliedJSON == "" {
		sess.AppliedJSON = "[]"
	}

	query := `
		INSERT INTO sessions (id, template_id, status, baseline_version, changes, applied, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.TemplateID, sess.Status, sess.BaselineVersion,
		sess.ChangesJSON, sess.AppliedJSON, sess.Error, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, template_id, status, baseline_version, changes, applied, error, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`
	sess := &Session{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.TemplateID, &sess.Status, &sess.BaselineVersion,
		&sess.ChangesJSON, &sess.AppliedJSON, &sess.Error, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// UpdateSession persists the mutable fields of a session. The status
// column is not touched here; use TransitionSession for state changes.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE sessions
		SET baseline_version = ?, changes = ?, applied = ?, error = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		sess.BaselineVersion, sess.ChangesJSON, sess.AppliedJSON, sess.Error, sess.UpdatedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
	}
	return nil
}

// TransitionSession moves a session from one status to another with a
// compare-and-set. A session in any other state fails the transition
// with a conflict error.
func (s *SQLiteStore) TransitionSession(ctx context.Context, id, from, to string) error {
	query := `
		UPDATE sessions
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := s.db.ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to transition session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	current, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return fault.Conflict(
		fmt.Sprintf("session %s is %s, expected %s", id, current.Status, from), nil)
}

// ListSessions lists sessions for a template, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, templateID string) ([]*Session, error) {
	query := `
		SELECT id, template_id, status, baseline_version, changes, applied, error, created_at, updated_at
		FROM sessions
		WHERE template_id = ?
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(
			&sess.ID, &sess.TemplateID, &sess.Status, &sess.BaselineVersion,
			&sess.ChangesJSON, &sess.AppliedJSON, &sess.Error, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SaveAuditSnapshot records an audit result for a template version.
func (s *SQLiteStore) SaveAuditSnapshot(ctx context.Context, snap *AuditSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_snapshots (id, template_id, version, score, total_issues, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		snap.ID, snap.TemplateID, snap.Version, snap.Score, snap.TotalIssues, snap.ResultJSON, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save audit snapshot: %w", err)
	}
	return nil
}

// ListAuditSnapshots lists recent snapshots for a template, newest
// first. A non-positive limit returns everything.
func (s *SQLiteStore) ListAuditSnapshots(ctx context.Context, templateID string, limit int) ([]*AuditSnapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, template_id, version, score, total_issues, result, created_at
		FROM audit_snapshots
		WHERE template_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, templateID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*AuditSnapshot{}
	for rows.Next() {
		snap := &AuditSnapshot{}
		if err := rows.Scan(
			&snap.ID, &snap.TemplateID, &snap.Version, &snap.Score,
			&snap.TotalIssues, &snap.ResultJSON, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
