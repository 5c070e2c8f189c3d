package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FileGateway implements the TenantGateway interface using the local
// filesystem. Records are stored as JSON files under
// <base>/<tenant>/<collection>/<id>.json, keeping the tenant partition at the
// directory level.
type FileGateway struct {
	baseDir string
}

// NewFileGateway creates a new FileGateway instance.
// It will create the base directory if it doesn't exist; per-tenant and
// per-collection directories are created lazily on first write.
func NewFileGateway(baseDir string) (*FileGateway, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", baseDir, err)
	}
	return &FileGateway{baseDir: baseDir}, nil
}

func (g *FileGateway) collectionDir(tenantID, collection string) string {
	return filepath.Join(g.baseDir, tenantID, collection)
}

func (g *FileGateway) recordPath(tenantID, collection, id string) string {
	return filepath.Join(g.collectionDir(tenantID, collection), id+".json")
}

func (g *FileGateway) readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", path, err)
	}
	return rec, nil
}

func (g *FileGateway) writeRecord(tenantID, collection string, rec Record) error {
	dir := g.collectionDir(tenantID, collection)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return os.WriteFile(g.recordPath(tenantID, collection, recString(rec, "id")), data, 0644)
}

// Filter loads every record of the tenant's collection and returns the ones
// matching the predicate. This is a simplified implementation; a real
// backend would index its collections.
func (g *FileGateway) Filter(ctx context.Context, collection, tenantID string, predicate Predicate, opts ...QueryOption) ([]Record, error) {
	if tenantID == "" {
		return nil, &EngineError{Code: ErrorCodeInvalidInput, Message: "tenant id is required"}
	}

	var q filterQuery
	for _, opt := range opts {
		opt(&q)
	}

	files, err := os.ReadDir(g.collectionDir(tenantID, collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read collection directory: %w", err)
	}

	var matched []Record
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		rec, err := g.readRecord(filepath.Join(g.collectionDir(tenantID, collection), file.Name()))
		if err != nil {
			// Skip corrupted files rather than failing the whole read.
			continue
		}
		if matchesPredicate(rec, predicate) {
			matched = append(matched, rec)
		}
	}
	return applyQuery(matched, q), nil
}

// Create writes a new record file for the tenant, minting an id and stamping
// created_at/updated_at.
func (g *FileGateway) Create(ctx context.Context, collection, tenantID string, fields Record) (Record, error) {
	if tenantID == "" {
		return nil, &EngineError{Code: ErrorCodeInvalidInput, Message: "tenant id is required"}
	}

	rec := cloneRecord(fields)
	if recString(rec, "id") == "" {
		rec["id"] = uuid.New().String()
	}
	now := time.Now().UTC()
	rec["created_at"] = now
	rec["updated_at"] = now

	if err := g.writeRecord(tenantID, collection, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update merges fields into an existing record file of the tenant. The audit
// flag is accepted for contract compatibility; the file backend keeps no
// separate change trail.
func (g *FileGateway) Update(ctx context.Context, collection, recordID string, fields Record, tenantID string, audit bool) (Record, error) {
	if tenantID == "" {
		return nil, &EngineError{Code: ErrorCodeInvalidInput, Message: "tenant id is required"}
	}

	rec, err := g.readRecord(g.recordPath(tenantID, collection, recordID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &EngineError{
				Code:    ErrorCodeNotFound,
				Message: fmt.Sprintf("record %s not found in %s", recordID, collection),
			}
		}
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	for k, v := range fields {
		rec[k] = v
	}
	rec["updated_at"] = time.Now().UTC()

	if err := g.writeRecord(tenantID, collection, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Ensure FileGateway implements TenantGateway
var _ TenantGateway = (*FileGateway)(nil)
