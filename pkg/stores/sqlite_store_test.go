package stores

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/terravet/terravet/pkg/fault"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func createTestTemplate(t *testing.T, store *SQLiteStore, name string) *Template {
	t.Helper()
	tmpl := &Template{Name: name, Provider: "aws"}
	if err := store.CreateTemplate(context.Background(), tmpl); err != nil {
		t.Fatalf("failed to create template: %v", err)
	}
	return tmpl
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	tables := []string{"templates", "template_versions", "sessions", "audit_snapshots"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestTemplateCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	tmpl := createTestTemplate(t, store, "web-stack")

	got, err := store.GetTemplate(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if got.Name != "web-stack" || got.Provider != "aws" {
		t.Errorf("got %+v", got)
	}

	byName, err := store.GetTemplateByName(ctx, "web-stack")
	if err != nil {
		t.Fatalf("GetTemplateByName: %v", err)
	}
	if byName.ID != tmpl.ID {
		t.Errorf("lookup by name returned %s, want %s", byName.ID, tmpl.ID)
	}

	// Duplicate names are rejected by the UNIQUE constraint.
	if err := store.CreateTemplate(ctx, &Template{Name: "web-stack"}); err == nil {
		t.Error("expected duplicate name to fail")
	}

	list, err := store.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("templates = %d, want 1", len(list))
	}

	if err := store.DeleteTemplate(ctx, tmpl.ID); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	if _, err := store.GetTemplate(ctx, tmpl.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete, err = %v, want ErrNotFound", err)
	}
}

func TestVersionNumbering(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	tmpl := createTestTemplate(t, store, "web-stack")

	v1, err := store.CreateVersion(ctx, tmpl.ID, "content one", "initial import")
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if v1.Version != 1 {
		t.Errorf("first version = %d, want 1", v1.Version)
	}

	v2, err := store.CreateVersion(ctx, tmpl.ID, "content two", "")
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if v2.Version != 2 {
		t.Errorf("second version = %d, want 2", v2.Version)
	}

	latest, err := store.GetLatestVersion(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("GetLatestVersion: %v", err)
	}
	if latest.Version != 2 || latest.Content != "content two" {
		t.Errorf("latest = %+v", latest)
	}

	// Old versions remain readable: history is append-only.
	old, err := store.GetVersion(ctx, tmpl.ID, 1)
	if err != nil {
		t.Fatalf("GetVersion(1): %v", err)
	}
	if old.Content != "content one" {
		t.Errorf("version 1 content = %q", old.Content)
	}

	versions, err := store.ListVersions(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 2 {
		t.Errorf("versions = %+v, want newest first", versions)
	}
}

func TestVersionNumberingUnderConcurrency(t *testing.T) {
	// A file-backed database: in-memory SQLite gives every pooled
	// connection its own database, which defeats the point here.
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "terravet.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	defer store.Close()

	tmpl := createTestTemplate(t, store, "web-stack")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateVersion(ctx, tmpl.ID, "content", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent CreateVersion: %v", err)
		}
	}

	versions, err := store.ListVersions(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != writers {
		t.Fatalf("versions = %d, want %d", len(versions), writers)
	}
	seen := map[int]bool{}
	for _, v := range versions {
		if seen[v.Version] {
			t.Errorf("duplicate version number %d", v.Version)
		}
		seen[v.Version] = true
	}
	for i := 1; i <= writers; i++ {
		if !seen[i] {
			t.Errorf("missing version number %d", i)
		}
	}
}

func TestSessionCRUDAndTransitions(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	tmpl := createTestTemplate(t, store, "web-stack")
	if _, err := store.CreateVersion(ctx, tmpl.ID, "content", ""); err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	sess := &Session{
		TemplateID:      tmpl.ID,
		Status:          "planning",
		BaselineVersion: 1,
	}
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != "planning" || got.ChangesJSON != "[]" {
		t.Errorf("session = %+v", got)
	}

	if err := store.TransitionSession(ctx, sess.ID, "planning", "reviewing"); err != nil {
		t.Fatalf("TransitionSession: %v", err)
	}

	// A stale transition from the old state must conflict.
	err = store.TransitionSession(ctx, sess.ID, "planning", "applying")
	if err == nil {
		t.Fatal("expected conflict on stale transition")
	}
	if !fault.IsConflict(err) {
		t.Errorf("error = %v, want conflict class", err)
	}

	got, _ = store.GetSession(ctx, sess.ID)
	if got.Status != "reviewing" {
		t.Errorf("status = %s, want reviewing after failed CAS", got.Status)
	}

	got.ChangesJSON = `[{"id":"c1"}]`
	if err := store.UpdateSession(ctx, got); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	again, _ := store.GetSession(ctx, sess.ID)
	if again.ChangesJSON != `[{"id":"c1"}]` {
		t.Errorf("changes = %s", again.ChangesJSON)
	}

	sessions, err := store.ListSessions(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(sessions))
	}
}

func TestTransitionMissingSession(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	err := store.TransitionSession(context.Background(), "no-such-id", "planning", "reviewing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestAuditSnapshots(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	tmpl := createTestTemplate(t, store, "web-stack")

	for i, score := range []int{53, 78, 100} {
		snap := &AuditSnapshot{
			TemplateID:  tmpl.ID,
			Version:     i + 1,
			Score:       score,
			TotalIssues: 3 - i,
			ResultJSON:  "{}",
		}
		if err := store.SaveAuditSnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveAuditSnapshot: %v", err)
		}
	}

	snaps, err := store.ListAuditSnapshots(ctx, tmpl.ID, 2)
	if err != nil {
		t.Fatalf("ListAuditSnapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}

	all, err := store.ListAuditSnapshots(ctx, tmpl.ID, 0)
	if err != nil {
		t.Fatalf("ListAuditSnapshots(all): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("snapshots = %d, want 3", len(all))
	}
}

// TestInitAppliesPoolConfig tests that configured pool limits reach the
// underlying connection pool instead of being silently replaced.
func TestInitAppliesPoolConfig(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path:         filepath.Join(t.TempDir(), "terravet.db"),
		MaxOpenConns: 3,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	defer store.Close()

	if got := store.db.Stats().MaxOpenConnections; got != 3 {
		t.Errorf("max open connections = %d, want 3", got)
	}
}

// TestDeleteTemplateCascades tests that foreign keys are enforced on
// every pooled connection: deleting a template removes its versions,
// sessions, and snapshots.
func TestDeleteTemplateCascades(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	tmpl := createTestTemplate(t, store, "doomed")
	if _, err := store.CreateVersion(ctx, tmpl.ID, "content", "initial"); err != nil {
		t.Fatalf("failed to create version: %v", err)
	}
	sess := &Session{TemplateID: tmpl.ID, Status: "planning", BaselineVersion: 1}
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	snap := &AuditSnapshot{TemplateID: tmpl.ID, Version: 1, Score: 80, ResultJSON: "{}"}
	if err := store.SaveAuditSnapshot(ctx, snap); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	if err := store.DeleteTemplate(ctx, tmpl.ID); err != nil {
		t.Fatalf("failed to delete template: %v", err)
	}

	if _, err := store.GetLatestVersion(ctx, tmpl.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("versions survived template deletion: %v", err)
	}
	if _, err := store.GetSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("session survived template deletion: %v", err)
	}
	snaps, err := store.ListAuditSnapshots(ctx, tmpl.ID, 0)
	if err != nil {
		t.Fatalf("failed to list snapshots: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("snapshots survived template deletion: %d remain", len(snaps))
	}
}
