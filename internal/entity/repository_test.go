package entity

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// openTestRepo creates an in-memory SQLite repository with the
// entities schema applied.
func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	schema := `
		CREATE TABLE entities (
			entity_id  TEXT PRIMARY KEY,
			domain     TEXT NOT NULL,
			unique_id  TEXT NOT NULL,
			name       TEXT NOT NULL,
			available  INTEGER NOT NULL DEFAULT 0,
			state      TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(domain, unique_id)
		) STRICT`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	return NewSQLiteRepository(db)
}

func testRecord() *Record {
	return &Record{
		EntityID:  "sensor.outdoor_temp",
		Domain:    "sensor",
		UniqueID:  "open-meteo-temp",
		Name:      "Outdoor Temp",
		Available: true,
		State:     State{"value": 21.5, "unit": "°C"},
	}
}

// TestRepositorySaveGet verifies round-tripping a record.
func TestRepositorySaveGet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, testRecord()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.Get(ctx, "sensor.outdoor_temp")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UniqueID != "open-meteo-temp" {
		t.Errorf("UniqueID = %q, want %q", got.UniqueID, "open-meteo-temp")
	}
	if !got.Available {
		t.Error("Available = false, want true")
	}
	if got.State["value"] != 21.5 {
		t.Errorf("State[value] = %v, want 21.5", got.State["value"])
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	if _, err := repo.Get(ctx, "sensor.missing"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Get() missing error = %v, want ErrEntityNotFound", err)
	}
}

// TestRepositorySaveUpsert verifies Save replaces on conflict.
func TestRepositorySaveUpsert(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	rec := testRecord()
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rec.Name = "Renamed"
	rec.Available = false
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := repo.Get(ctx, rec.EntityID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("Name = %q, want %q", got.Name, "Renamed")
	}
	if got.Available {
		t.Error("Available = true, want false")
	}
}

// TestRepositorySaveDuplicateUniqueID verifies the domain+unique_id
// constraint maps to the sentinel error.
func TestRepositorySaveDuplicateUniqueID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, testRecord()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	clash := testRecord()
	clash.EntityID = "sensor.outdoor_temp_2" // same unique_id, new entity_id
	if err := repo.Save(ctx, clash); !errors.Is(err, ErrDuplicateUniqueID) {
		t.Errorf("Save() error = %v, want ErrDuplicateUniqueID", err)
	}
}

// TestRepositoryGetByUniqueID verifies unique-ID lookup.
func TestRepositoryGetByUniqueID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, testRecord()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.GetByUniqueID(ctx, "sensor", "open-meteo-temp")
	if err != nil {
		t.Fatalf("GetByUniqueID() error = %v", err)
	}
	if got.EntityID != "sensor.outdoor_temp" {
		t.Errorf("EntityID = %q, want %q", got.EntityID, "sensor.outdoor_temp")
	}

	if _, err := repo.GetByUniqueID(ctx, "sensor", "nope"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("GetByUniqueID() missing error = %v, want ErrEntityNotFound", err)
	}
	if _, err := repo.GetByUniqueID(ctx, "switch", "open-meteo-temp"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("GetByUniqueID() wrong domain error = %v, want ErrEntityNotFound", err)
	}
}

// TestRepositoryList verifies listing with and without domain filter.
func TestRepositoryList(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	a := testRecord()
	b := testRecord()
	b.EntityID = "switch.relay"
	b.Domain = "switch"
	b.UniqueID = "relay-1"

	for _, rec := range []*Record{a, b} {
		if err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	all, err := repo.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() returned %d records, want 2", len(all))
	}

	sensors, err := repo.List(ctx, "sensor")
	if err != nil {
		t.Fatalf("List(sensor) error = %v", err)
	}
	if len(sensors) != 1 || sensors[0].EntityID != "sensor.outdoor_temp" {
		t.Errorf("List(sensor) = %+v, want single outdoor_temp", sensors)
	}
}

// TestRepositoryUpdateState verifies the state hot path.
func TestRepositoryUpdateState(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, testRecord()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := repo.UpdateState(ctx, "sensor.outdoor_temp", State{"value": -3.0}, false); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	got, err := repo.Get(ctx, "sensor.outdoor_temp")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State["value"] != -3.0 {
		t.Errorf("State[value] = %v, want -3", got.State["value"])
	}
	if got.Available {
		t.Error("Available = true after unavailable update")
	}
	// Identity fields untouched by the hot path.
	if got.Name != "Outdoor Temp" {
		t.Errorf("Name = %q, want unchanged", got.Name)
	}

	if err := repo.UpdateState(ctx, "sensor.missing", State{}, true); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("UpdateState() missing error = %v, want ErrEntityNotFound", err)
	}
}

// TestRepositoryDelete verifies idempotent deletion.
func TestRepositoryDelete(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, testRecord()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := repo.Delete(ctx, "sensor.outdoor_temp"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.Get(ctx, "sensor.outdoor_temp"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrEntityNotFound", err)
	}

	// Deleting again is not an error.
	if err := repo.Delete(ctx, "sensor.outdoor_temp"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

// TestManagerRestartKeepsEntityID verifies persisted IDs are reused.
func TestManagerRestartKeepsEntityID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	m1, err := NewManager(ManagerOptions{Domain: "sensor", Repository: repo})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if err := m1.AddEntities(ctx, []Entity{newMockEntity("stable-id", "Temp")}, false); err != nil {
		t.Fatalf("AddEntities() error = %v", err)
	}
	m1.Shutdown()

	// Second lifetime: a colliding name registers first, then the
	// persisted entity returns. It must get its old ID back, not a
	// fresh slug.
	m2, err := NewManager(ManagerOptions{Domain: "sensor", Repository: repo})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m2.Shutdown()

	if err := m2.AddEntities(ctx, []Entity{newMockEntity("stable-id", "Renamed Temp")}, false); err != nil {
		t.Fatalf("AddEntities() second lifetime error = %v", err)
	}
	if _, ok := m2.Get("sensor.temp"); !ok {
		t.Error("persisted entity did not keep its original entity ID")
	}
}
