package entitlement

import (
	"context"
	"sort"
	"time"
)

// Record is the loosely-typed row shape exchanged with the tenant data
// gateway. Typed entities are decoded from records in record.go, which also
// normalizes historical field spellings.
type Record map[string]any

// Predicate filters records by field equality. Values are compared after
// scalar normalization, so a predicate written with string constants matches
// records that round-tripped through JSON.
type Predicate map[string]any

// QueryOption tunes a Filter call.
type QueryOption func(*filterQuery)

type filterQuery struct {
	sortField  string
	descending bool
	limit      int
}

// WithSort orders results by the named field.
func WithSort(field string, descending bool) QueryOption {
	return func(q *filterQuery) {
		q.sortField = field
		q.descending = descending
	}
}

// WithLimit caps the number of results returned.
func WithLimit(n int) QueryOption {
	return func(q *filterQuery) {
		q.limit = n
	}
}

// TenantGateway is the data-access contract the engine consumes.
//
// Every read and write is partitioned by tenant; the gateway guarantees
// nothing beyond that — in particular no atomicity across calls. All engine
// operations pass the tenant id explicitly and never read it from ambient
// state.
//
// The audit flag on Update asks the backend to retain a change trail for the
// write; backends without audit support may ignore it.
type TenantGateway interface {
	// Filter returns the tenant's records matching every predicate field
	Filter(ctx context.Context, collection, tenantID string, predicate Predicate, opts ...QueryOption) ([]Record, error)
	// Create writes a new record for the tenant and returns it with its id
	// and timestamps populated
	Create(ctx context.Context, collection, tenantID string, fields Record) (Record, error)
	// Update merges fields into an existing record of the tenant
	Update(ctx context.Context, collection, recordID string, fields Record, tenantID string, audit bool) (Record, error)
}

// matchesPredicate reports whether every predicate field equals the record's
// value for that field.
func matchesPredicate(rec Record, predicate Predicate) bool {
	for field, want := range predicate {
		if !scalarEqual(rec[field], want) {
			return false
		}
	}
	return true
}

// scalarEqual compares two record values after normalizing the scalar types
// a record can hold natively versus after a JSON round trip.
func scalarEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	if at, aok := toTime(a); aok {
		bt, bok := toTime(b)
		return bok && at.Equal(bt)
	}
	if as, aok := toStringValue(a); aok {
		bs, bok := toStringValue(b)
		return bok && as == bs
	}
	return a == b
}

// applyQuery sorts and truncates filtered results.
func applyQuery(recs []Record, q filterQuery) []Record {
	if q.sortField != "" {
		sort.SliceStable(recs, func(i, j int) bool {
			less := scalarLess(recs[i][q.sortField], recs[j][q.sortField])
			if q.descending {
				return !less && !scalarEqual(recs[i][q.sortField], recs[j][q.sortField])
			}
			return less
		})
	}
	if q.limit > 0 && len(recs) > q.limit {
		recs = recs[:q.limit]
	}
	return recs
}

func scalarLess(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af < bf
	}
	if at, aok := toTime(a); aok {
		bt, bok := toTime(b)
		return bok && at.Before(bt)
	}
	if as, aok := toStringValue(a); aok {
		bs, bok := toStringValue(b)
		return bok && as < bs
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	}
	return time.Time{}, false
}

func toStringValue(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case GrantType:
		return string(s), true
	case GrantSource:
		return string(s), true
	case Role:
		return string(s), true
	case MonetizationMode:
		return string(s), true
	case CourseVisibility:
		return string(s), true
	case ReferralStatus:
		return string(s), true
	}
	return "", false
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
