// Package index defines the vector catalog port the matching pipeline
// and the studio tools consume, plus its Qdrant adapter. The index owns
// creative payloads; consumers see them as read-only attribute bags.
package index

import (
	"context"

	"github.com/sponsorlabs/placemint/internal/filter"
	"github.com/sponsorlabs/placemint/internal/model"
)

// Hit is one query result: the identifier triple, the raw similarity
// score, and the stored payload.
type Hit struct {
	CreativeID   string
	CampaignID   string
	AdvertiserID string
	Score        float32
	Payload      model.Payload
}

// Item is one creative to upsert: a stable id, its embedding, and the
// payload stored alongside.
type Item struct {
	CreativeID string
	Vector     []float32
	Payload    map[string]any
}

// EnsureResult reports the outcome of an idempotent ensure_collection.
type EnsureResult struct {
	Name          string `json:"name"`
	Created       bool   `json:"created"`
	Dimension     uint64 `json:"dimension"`
	ModelID       string `json:"model_id"`
	SchemaVersion string `json:"schema_version"`
}

// CollectionInfo describes the live collection.
type CollectionInfo struct {
	Name                string `json:"name"`
	Dimension           uint64 `json:"dimension"`
	ModelID             string `json:"model_id"`
	SchemaVersion       string `json:"schema_version"`
	PointsCount         uint64 `json:"points_count"`
	IndexedVectorsCount uint64 `json:"indexed_vectors_count"`
	Status              string `json:"status"`
}

// Index is the catalog capability the service depends on.
// Implementations must be safe for concurrent use, and Query must
// constrain every search to enabled != false.
type Index interface {
	EnsureCollection(ctx context.Context, dimension uint64, modelID, schemaVersion string) (EnsureResult, error)
	CollectionInfo(ctx context.Context) (CollectionInfo, error)
	DeleteCollection(ctx context.Context) error

	Upsert(ctx context.Context, items []Item) error
	Delete(ctx context.Context, creativeID string) error
	// Get returns the stored payload, with ok=false when the creative
	// is not in the catalog.
	Get(ctx context.Context, creativeID string) (model.Payload, bool, error)

	// Query returns hits ordered by similarity. The expression is
	// translated to the backend's filter form; enabled != false is
	// always added.
	Query(ctx context.Context, vector []float32, expr filter.Expression, topK int) ([]Hit, error)

	// BulkDisable sets enabled=false on every creative matching the
	// flat attribute spec and returns the number disabled.
	BulkDisable(ctx context.Context, spec map[string]any) (int, error)

	// Healthy returns nil if the backend is reachable.
	Healthy(ctx context.Context) error

	Close() error
}
