// Package stores provides persistent storage for templates, their
// immutable version history, remediation sessions, and audit snapshots.
package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Template is a managed configuration file. Its content lives in
// template_versions; the template row carries identity and metadata.
type Template struct {
	ID          string
	Name        string
	Description string
	Provider    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TemplateVersion is one immutable revision of a template's content.
// Versions are numbered from 1 and never rewritten.
type TemplateVersion struct {
	ID          string
	TemplateID  string
	Version     int
	Content     string
	Description string
	CreatedAt   time.Time
}

// Session is the persisted state of a remediation session. The
// planned and applied changes are stored as opaque JSON; the session
// package owns their shape.
type Session struct {
	ID              string
	TemplateID      string
	Status          string
	BaselineVersion int
	ChangesJSON     string
	AppliedJSON     string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AuditSnapshot records the audit result for a specific template
// version, kept for scoring history.
type AuditSnapshot struct {
	ID          string
	TemplateID  string
	Version     int
	Score       int
	TotalIssues int
	ResultJSON  string
	CreatedAt   time.Time
}

// Store is the persistence interface for the engine.
type Store interface {
	// Template operations
	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, id string) (*Template, error)
	GetTemplateByName(ctx context.Context, name string) (*Template, error)
	ListTemplates(ctx context.Context) ([]*Template, error)
	DeleteTemplate(ctx context.Context, id string) error

	// Version operations. CreateVersion allocates the next version
	// number atomically; concurrent calls for the same template never
	// produce duplicate or skipped numbers.
	CreateVersion(ctx context.Context, templateID, content, description string) (*TemplateVersion, error)
	GetVersion(ctx context.Context, templateID string, version int) (*TemplateVersion, error)
	GetLatestVersion(ctx context.Context, templateID string) (*TemplateVersion, error)
	ListVersions(ctx context.Context, templateID string) ([]*TemplateVersion, error)

	// Session operations. TransitionSession performs a compare-and-set
	// on the status column and fails with a conflict error when the
	// session is not in the expected state.
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	TransitionSession(ctx context.Context, id, from, to string) error
	ListSessions(ctx context.Context, templateID string) ([]*Session, error)

	// Audit history
	SaveAuditSnapshot(ctx context.Context, snap *AuditSnapshot) error
	ListAuditSnapshots(ctx context.Context, templateID string, limit int) ([]*AuditSnapshot, error)

	Close() error
}
