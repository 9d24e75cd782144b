package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/terrametric/carbon-cli/internal/events"
	"github.com/terrametric/carbon-cli/internal/model"
)

// MaterialFilter specifies criteria for browsing the catalog.
type MaterialFilter struct {
	Category string `json:"category,omitempty"`
	State    string `json:"state,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// RecordFilter specifies criteria for listing calculation records.
type RecordFilter struct {
	ProjectID string `json:"projectId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the carbon pipeline.
// Calculation records are write-once: there is deliberately no update
// or delete operation for them.
type Store interface {
	// Reference materials (admin load path writes, everything else reads)
	UpsertMaterials(ctx context.Context, materials []model.ReferenceMaterial) (int64, error)
	ListMaterials(ctx context.Context, filter MaterialFilter) ([]model.ReferenceMaterial, error)
	AllMaterials(ctx context.Context) ([]model.ReferenceMaterial, error)
	CountMaterials(ctx context.Context) (int, error)

	// Calculation records
	CreateRecord(ctx context.Context, rec model.CalculationRecord) (*model.CalculationRecord, error)
	GetRecord(ctx context.Context, id string) (*model.CalculationRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.CalculationRecord, error)

	// Audit trail
	RecordImportEvent(ctx context.Context, ev events.Event) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned by GetRecord for unknown IDs.
var ErrNotFound = eris.New("record not found")
