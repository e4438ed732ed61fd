package audit_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/meinheim-core/internal/audit"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/database"
	_ "github.com/nerrad567/meinheim-core/migrations"
)

func setupRepo(t *testing.T) *audit.SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "audit.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return audit.NewSQLiteRepository(db.DB)
}

func TestRecord_FillsDefaults(t *testing.T) {
	repo := setupRepo(t)

	e := &audit.Entry{
		Action:     audit.ActionSwitch,
		EntityType: audit.EntitySocket,
		EntityID:   "30_3",
		Source:     audit.SourceHTTP,
		Details:    map[string]any{"state": "on"},
	}
	if err := repo.Record(context.Background(), e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if !strings.HasPrefix(e.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", e.ID)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestRecent_OrderAndFilter(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entries := []audit.Entry{
		{Action: audit.ActionSwitch, EntityType: audit.EntitySocket, EntityID: "31_1", Source: audit.SourceRule, CreatedAt: base},
		{Action: audit.ActionDeactivate, EntityType: audit.EntityRule, EntityID: "watering", Source: audit.SourceHTTP, CreatedAt: base.Add(time.Minute)},
		{Action: audit.ActionSwitch, EntityType: audit.EntitySocket, EntityID: "30_3", Source: audit.SourceMQTT, CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range entries {
		if err := repo.Record(ctx, &entries[i]); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	all, err := repo.Recent(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].EntityID != "30_3" || all[2].EntityID != "31_1" {
		t.Errorf("order = %s, %s, %s; want newest first", all[0].EntityID, all[1].EntityID, all[2].EntityID)
	}

	sockets, err := repo.Recent(ctx, audit.Filter{EntityType: audit.EntitySocket, Limit: 1})
	if err != nil {
		t.Fatalf("Recent(filter) error = %v", err)
	}
	if len(sockets) != 1 || sockets[0].EntityID != "30_3" {
		t.Errorf("filtered = %+v, want only 30_3", sockets)
	}
}

func TestRecent_DetailsRoundTrip(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.Record(ctx, &audit.Entry{
		Action:     audit.ActionDim,
		EntityType: audit.EntitySocket,
		EntityID:   "29_1",
		Source:     audit.SourceHTTP,
		Details:    map[string]any{"value": 12.0},
	}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := repo.Recent(ctx, audit.Filter{EntityID: "29_1"})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Details["value"] != 12.0 {
		t.Errorf("Details = %v, want value 12", got[0].Details)
	}
}
