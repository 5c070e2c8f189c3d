package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"
)

// gatewayBackends returns a generator per gateway backend so every
// storage-dependent test runs against both implementations.
func gatewayBackends() []struct {
	name string
	gen  func(t *testing.T) TenantGateway
} {
	return []struct {
		name string
		gen  func(t *testing.T) TenantGateway
	}{
		{
			name: "InMemoryGateway",
			gen: func(t *testing.T) TenantGateway {
				return NewInMemoryGateway()
			},
		},
		{
			name: "FileGateway",
			gen: func(t *testing.T) TenantGateway {
				gw, err := NewFileGateway(t.TempDir())
				if err != nil {
					t.Fatalf("Failed to create FileGateway: %v", err)
				}
				return gw
			},
		},
	}
}

func mustCreate(t *testing.T, gw TenantGateway, collection, tenantID string, fields Record) Record {
	t.Helper()
	rec, err := gw.Create(context.Background(), collection, tenantID, fields)
	if err != nil {
		t.Fatalf("Create(%s) failed: %v", collection, err)
	}
	return rec
}

func TestGatewayCreateAndFilter(t *testing.T) {
	for _, backend := range gatewayBackends() {
		t.Run(backend.name, func(t *testing.T) {
			ctx := context.Background()
			gw := backend.gen(t)

			created := mustCreate(t, gw, "things", "school-1", Record{"kind": "a", "rank": 2})
			if recString(created, "id") == "" {
				t.Error("Create did not mint an id")
			}
			if recTime(created, "created_at") == nil {
				t.Error("Create did not stamp created_at")
			}

			mustCreate(t, gw, "things", "school-1", Record{"kind": "a", "rank": 1})
			mustCreate(t, gw, "things", "school-1", Record{"kind": "b", "rank": 3})

			matched, err := gw.Filter(ctx, "things", "school-1", Predicate{"kind": "a"})
			if err != nil {
				t.Fatalf("Filter failed: %v", err)
			}
			if len(matched) != 2 {
				t.Errorf("Filter matched %d records, want 2", len(matched))
			}

			sorted, err := gw.Filter(ctx, "things", "school-1", Predicate{}, WithSort("rank", false), WithLimit(2))
			if err != nil {
				t.Fatalf("Filter with sort failed: %v", err)
			}
			if len(sorted) != 2 {
				t.Fatalf("limited Filter returned %d records, want 2", len(sorted))
			}
			if recInt64(sorted[0], "rank") != 1 || recInt64(sorted[1], "rank") != 2 {
				t.Errorf("sorted ranks = %d,%d, want 1,2",
					recInt64(sorted[0], "rank"), recInt64(sorted[1], "rank"))
			}
		})
	}
}

// TestGatewayTenantIsolation pins the partition guarantee: records written
// for one school are invisible to every other school.
func TestGatewayTenantIsolation(t *testing.T) {
	for _, backend := range gatewayBackends() {
		t.Run(backend.name, func(t *testing.T) {
			ctx := context.Background()
			gw := backend.gen(t)

			mustCreate(t, gw, CollectionEntitlements, "school-a", Record{"user_email": "u@x.y"})

			recs, err := gw.Filter(ctx, CollectionEntitlements, "school-b", Predicate{"user_email": "u@x.y"})
			if err != nil {
				t.Fatalf("Filter failed: %v", err)
			}
			if len(recs) != 0 {
				t.Errorf("school-b sees %d of school-a's records, want 0", len(recs))
			}
		})
	}
}

func TestGatewayUpdate(t *testing.T) {
	for _, backend := range gatewayBackends() {
		t.Run(backend.name, func(t *testing.T) {
			ctx := context.Background()
			gw := backend.gen(t)

			created := mustCreate(t, gw, "things", "school-1", Record{"count": 1})
			id := recString(created, "id")

			updated, err := gw.Update(ctx, "things", id, Record{"count": 2}, "school-1", true)
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if recInt64(updated, "count") != 2 {
				t.Errorf("count = %d after update, want 2", recInt64(updated, "count"))
			}

			_, err = gw.Update(ctx, "things", "missing-id", Record{"count": 3}, "school-1", false)
			var engineErr *EngineError
			if !errors.As(err, &engineErr) || engineErr.Code != ErrorCodeNotFound {
				t.Errorf("Update of missing record returned %v, want EngineError NOT_FOUND", err)
			}
		})
	}
}

func TestGatewayRequiresTenant(t *testing.T) {
	for _, backend := range gatewayBackends() {
		t.Run(backend.name, func(t *testing.T) {
			ctx := context.Background()
			gw := backend.gen(t)

			if _, err := gw.Filter(ctx, "things", "", Predicate{}); err == nil {
				t.Error("Filter with empty tenant id did not fail")
			}
			if _, err := gw.Create(ctx, "things", "", Record{}); err == nil {
				t.Error("Create with empty tenant id did not fail")
			}
			if _, err := gw.Update(ctx, "things", "r1", Record{}, "", false); err == nil {
				t.Error("Update with empty tenant id did not fail")
			}
		})
	}
}

func TestInMemoryGatewayAuditTrail(t *testing.T) {
	ctx := context.Background()
	gw := NewInMemoryGateway()

	created := mustCreate(t, gw, "things", "school-1", Record{"count": 1})
	id := recString(created, "id")

	if _, err := gw.Update(ctx, "things", id, Record{"count": 2}, "school-1", false); err != nil {
		t.Fatalf("unaudited Update failed: %v", err)
	}
	if _, err := gw.Update(ctx, "things", id, Record{"count": 3}, "school-1", true); err != nil {
		t.Fatalf("audited Update failed: %v", err)
	}

	trail := gw.AuditTrail()
	if len(trail) != 1 {
		t.Fatalf("audit trail has %d entries, want 1", len(trail))
	}
	if trail[0].RecordID != id || trail[0].TenantID != "school-1" {
		t.Errorf("audit entry = %+v, want record %s in school-1", trail[0], id)
	}
}

// TestFileGatewayTimeRoundTrip verifies that grant windows survive the JSON
// round trip through the file backend.
func TestFileGatewayTimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	gw, err := NewFileGateway(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create FileGateway: %v", err)
	}

	starts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ends := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	grant := Entitlement{
		SchoolID:  "school-1",
		UserEmail: "u@x.y",
		Type:      GrantCourse,
		CourseID:  "c1",
		Source:    SourceSubscription,
		SourceID:  "sub-1",
		StartsAt:  starts,
		EndsAt:    &ends,
	}

	if _, err := gw.Create(ctx, CollectionEntitlements, "school-1", grant.fields()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	recs, err := gw.Filter(ctx, CollectionEntitlements, "school-1", Predicate{"source_id": "sub-1"})
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Filter returned %d records, want 1", len(recs))
	}

	decoded := entitlementFromRecord(recs[0])
	if !decoded.StartsAt.Equal(starts) {
		t.Errorf("StartsAt = %v after round trip, want %v", decoded.StartsAt, starts)
	}
	if decoded.EndsAt == nil || !decoded.EndsAt.Equal(ends) {
		t.Errorf("EndsAt = %v after round trip, want %v", decoded.EndsAt, ends)
	}
	if !decoded.ActiveAt(starts.Add(time.Hour)) {
		t.Error("grant inactive inside its window after round trip")
	}
}
