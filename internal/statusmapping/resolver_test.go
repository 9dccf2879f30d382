package statusmapping

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/leveranciersportal/portalsync/internal/models"
	"gorm.io/gorm"
)

func TestResolve_ExactAndTenantScoped(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:statusmapping_resolve?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.AutoMigrate(&models.StatusMapping{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	rows := []models.StatusMapping{
		{ErpSystemID: 1, SourceStatus: "OPEN", TargetStatus: "In Behandeling"},
		{ErpSystemID: 2, SourceStatus: "OPEN", TargetStatus: "Nieuw"},
	}
	if errCreate := db.Create(&rows).Error; errCreate != nil {
		t.Fatalf("seed: %v", errCreate)
	}

	resolver := NewResolver(db)
	ctx := context.Background()

	target, ok, errResolve := resolver.Resolve(ctx, 1, "OPEN")
	if errResolve != nil || !ok || target != "In Behandeling" {
		t.Fatalf("unexpected resolve: target=%q ok=%v err=%v", target, ok, errResolve)
	}
	target, ok, errResolve = resolver.Resolve(ctx, 2, "OPEN")
	if errResolve != nil || !ok || target != "Nieuw" {
		t.Fatalf("unexpected resolve for tenant 2: target=%q ok=%v err=%v", target, ok, errResolve)
	}
	if _, ok, errResolve = resolver.Resolve(ctx, 1, "open"); errResolve != nil || ok {
		t.Fatalf("expected case-sensitive miss, ok=%v err=%v", ok, errResolve)
	}
	if _, ok, errResolve = resolver.Resolve(ctx, 1, "CLOSED"); errResolve != nil || ok {
		t.Fatalf("expected miss for unmapped status, ok=%v err=%v", ok, errResolve)
	}

	snap, errSnap := resolver.Snapshot(ctx)
	if errSnap != nil {
		t.Fatalf("snapshot: %v", errSnap)
	}
	if snap.Len() != 2 {
		t.Fatalf("expected 2 mappings, got %d", snap.Len())
	}
	if got, ok := snap.Lookup(2, "OPEN"); !ok || got != "Nieuw" {
		t.Fatalf("unexpected snapshot lookup: %q %v", got, ok)
	}
	if _, ok := snap.Lookup(3, "OPEN"); ok {
		t.Fatalf("expected miss for unknown tenant")
	}
}

func TestSnapshot_NilSafe(t *testing.T) {
	var snap *Snapshot
	if _, ok := snap.Lookup(1, "OPEN"); ok {
		t.Fatalf("nil snapshot must not resolve")
	}
	empty := NewSnapshot(nil)
	if empty.Len() != 0 {
		t.Fatalf("expected empty snapshot")
	}
}
