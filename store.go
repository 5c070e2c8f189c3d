package entitlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryGateway implements TenantGateway using in-memory storage.
//
// Data is partitioned by tenant first, then by collection, so a predicate can
// never match another tenant's records. The gateway is thread-safe and uses a
// read-write mutex for read-heavy workloads. It is suitable for development
// and tests; production deployments plug in a gateway backed by the
// platform's data store.
//
// Audited updates are retained in an in-memory change trail retrievable via
// AuditTrail.
type InMemoryGateway struct {
	// mu protects tenants and audit
	mu sync.RWMutex
	// tenants maps tenant id -> collection -> record id -> record
	tenants map[string]map[string]map[string]Record
	// audit retains change entries for updates requested with the audit flag
	audit []AuditEntry
}

// AuditEntry is one audited gateway update.
type AuditEntry struct {
	// Collection is the collection the update touched
	Collection string `json:"collection"`
	// TenantID is the tenant the record belongs to
	TenantID string `json:"tenant_id"`
	// RecordID identifies the updated record
	RecordID string `json:"record_id"`
	// Fields are the fields that were merged in
	Fields Record `json:"fields"`
	// Timestamp records when the update landed
	Timestamp time.Time `json:"timestamp"`
}

// NewInMemoryGateway creates an empty in-memory gateway, immediately ready
// for use.
//
// Example:
//
//	gw := NewInMemoryGateway()
//	engine := NewEngine(gw)
func NewInMemoryGateway() *InMemoryGateway {
	return &InMemoryGateway{
		tenants: make(map[string]map[string]map[string]Record),
	}
}

// lookup is the read-side counterpart of collection: it never allocates, so
// it is safe under the read lock.
func (g *InMemoryGateway) lookup(tenantID, collection string) map[string]Record {
	return g.tenants[tenantID][collection]
}

func (g *InMemoryGateway) collection(tenantID, collection string) map[string]Record {
	tenant, ok := g.tenants[tenantID]
	if !ok {
		tenant = make(map[string]map[string]Record)
		g.tenants[tenantID] = tenant
	}
	records, ok := tenant[collection]
	if !ok {
		records = make(map[string]Record)
		tenant[collection] = records
	}
	return records
}

// Filter returns the tenant's records matching every predicate field,
// optionally sorted and limited.
func (g *InMemoryGateway) Filter(ctx context.Context, collection, tenantID string, predicate Predicate, opts ...QueryOption) ([]Record, error) {
	if tenantID == "" {
		return nil, &EngineError{Code: ErrorCodeInvalidInput, Message: "tenant id is required"}
	}

	var q filterQuery
	for _, opt := range opts {
		opt(&q)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var matched []Record
	for _, rec := range g.lookup(tenantID, collection) {
		if matchesPredicate(rec, predicate) {
			matched = append(matched, cloneRecord(rec))
		}
	}
	return applyQuery(matched, q), nil
}

// Create writes a new record for the tenant, minting an id and stamping
// created_at/updated_at.
func (g *InMemoryGateway) Create(ctx context.Context, collection, tenantID string, fields Record) (Record, error) {
	if tenantID == "" {
		return nil, &EngineError{Code: ErrorCodeInvalidInput, Message: "tenant id is required"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec := cloneRecord(fields)
	if recString(rec, "id") == "" {
		rec["id"] = uuid.New().String()
	}
	now := time.Now()
	rec["created_at"] = now
	rec["updated_at"] = now

	g.collection(tenantID, collection)[recString(rec, "id")] = rec
	return cloneRecord(rec), nil
}

// Update merges fields into an existing record of the tenant. A missing
// record is an error; updates never create.
func (g *InMemoryGateway) Update(ctx context.Context, collection, recordID string, fields Record, tenantID string, audit bool) (Record, error) {
	if tenantID == "" {
		return nil, &EngineError{Code: ErrorCodeInvalidInput, Message: "tenant id is required"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	records := g.collection(tenantID, collection)
	rec, exists := records[recordID]
	if !exists {
		return nil, &EngineError{
			Code:    ErrorCodeNotFound,
			Message: fmt.Sprintf("record %s not found in %s", recordID, collection),
		}
	}

	for k, v := range fields {
		rec[k] = v
	}
	rec["updated_at"] = time.Now()
	records[recordID] = rec

	if audit {
		g.audit = append(g.audit, AuditEntry{
			Collection: collection,
			TenantID:   tenantID,
			RecordID:   recordID,
			Fields:     cloneRecord(fields),
			Timestamp:  time.Now(),
		})
	}

	return cloneRecord(rec), nil
}

// AuditTrail returns a copy of the audited update entries in arrival order.
func (g *InMemoryGateway) AuditTrail() []AuditEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]AuditEntry, len(g.audit))
	copy(out, g.audit)
	return out
}

// Ensure InMemoryGateway implements TenantGateway
var _ TenantGateway = (*InMemoryGateway)(nil)
