package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/chazu/ballast/pkg/resource"
)

// openTestPostgres connects to the database named by TEST_DATABASE_URL, or
// skips the test when the variable is unset.
func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresRoundTrip(t *testing.T) {
	store := openTestPostgres(t)
	ctx := context.Background()

	id := resource.ID{Type: resource.TypeGlobalAddress, Name: fmt.Sprintf("ip-%d", time.Now().UnixNano())}
	t.Cleanup(func() { _ = store.Delete(ctx, id) })

	obs := &ObservedState{
		ID:             id,
		Fingerprint:    "00000000deadbeef",
		Serial:         1,
		LiveAttributes: map[string]any{"address": "203.0.113.7"},
	}
	if err := store.Put(ctx, obs); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Fingerprint != obs.Fingerprint || got.Serial != 1 {
		t.Errorf("Get() = fingerprint %q serial %d, want %q 1", got.Fingerprint, got.Serial, obs.Fingerprint)
	}
	if got.LiveAttributes["address"] != "203.0.113.7" {
		t.Errorf("Expected live attributes to round-trip, got %v", got.LiveAttributes)
	}
}

func TestPostgresSerialCAS(t *testing.T) {
	store := openTestPostgres(t)
	ctx := context.Background()

	id := resource.ID{Type: resource.TypeBackendService, Name: fmt.Sprintf("api-%d", time.Now().UnixNano())}
	t.Cleanup(func() { _ = store.Delete(ctx, id) })

	if err := store.Put(ctx, &ObservedState{ID: id, Fingerprint: "a", Serial: 2}); !errors.Is(err, ErrSerialConflict) {
		t.Fatalf("Expected ErrSerialConflict for first write with serial 2, got %v", err)
	}
	if err := store.Put(ctx, &ObservedState{ID: id, Fingerprint: "a", Serial: 1}); err != nil {
		t.Fatalf("Put(serial=1) failed: %v", err)
	}
	if err := store.Put(ctx, &ObservedState{ID: id, Fingerprint: "b", Serial: 1}); !errors.Is(err, ErrSerialConflict) {
		t.Fatalf("Expected ErrSerialConflict for replayed serial, got %v", err)
	}
	if err := store.Put(ctx, &ObservedState{ID: id, Fingerprint: "b", Serial: 2}); err != nil {
		t.Fatalf("Put(serial=2) failed: %v", err)
	}
}

func TestPostgresGetMissing(t *testing.T) {
	store := openTestPostgres(t)

	id := resource.ID{Type: resource.TypeUrlMap, Name: fmt.Sprintf("missing-%d", time.Now().UnixNano())}
	if _, err := store.Get(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
