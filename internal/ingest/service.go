// Package ingest is the only path by which creative records enter or
// leave the catalog: campaign expansion, batched embedding, vector
// upsert, and the collection management operations the studio exposes.
package ingest

import (
	"context"
	"log/slog"

	"github.com/sponsorlabs/placemint/internal/embedding"
	"github.com/sponsorlabs/placemint/internal/fault"
	"github.com/sponsorlabs/placemint/internal/index"
	"github.com/sponsorlabs/placemint/internal/model"
)

// DefaultMaxBatchSize bounds one embed-and-upsert round.
const DefaultMaxBatchSize = 500

// Service ingests campaigns into the vector catalog.
type Service struct {
	index         index.Index
	embedder      embedding.Provider
	logger        *slog.Logger
	maxBatchSize  int
	modelID       string
	schemaVersion string
}

// Options configure the ingest service.
type Options struct {
	// MaxBatchSize caps creatives per embed/upsert round. Zero means
	// DefaultMaxBatchSize.
	MaxBatchSize  int
	ModelID       string
	SchemaVersion string
}

// NewService builds an ingest service over the index and embedder.
func NewService(idx index.Index, embedder embedding.Provider, logger *slog.Logger, opts Options) *Service {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	return &Service{
		index:         idx,
		embedder:      embedder,
		logger:        logger,
		maxBatchSize:  opts.MaxBatchSize,
		modelID:       opts.ModelID,
		schemaVersion: opts.SchemaVersion,
	}
}

// UpsertResult summarizes one batch ingestion.
type UpsertResult struct {
	Campaigns int `json:"campaigns"`
	Creatives int `json:"creatives"`
	Batches   int `json:"batches"`
}

// UpsertCampaigns validates, expands, embeds, and upserts campaigns.
// Creatives inherit the campaign's targeting, policy, schedule, and
// budget. Work proceeds in batches of at most MaxBatchSize creatives.
func (s *Service) UpsertCampaigns(ctx context.Context, campaigns []model.Campaign) (UpsertResult, error) {
	var creatives []model.Creative
	for i, campaign := range campaigns {
		if err := campaign.Validate(); err != nil {
			return UpsertResult{}, fault.Wrapf(fault.InvalidInput, err, "ingest: campaigns[%d]", i)
		}
		creatives = append(creatives, campaign.Expand()...)
	}

	result := UpsertResult{Campaigns: len(campaigns), Creatives: len(creatives)}
	for start := 0; start < len(creatives); start += s.maxBatchSize {
		end := start + s.maxBatchSize
		if end > len(creatives) {
			end = len(creatives)
		}
		if err := s.upsertBatch(ctx, creatives[start:end]); err != nil {
			return result, err
		}
		result.Batches++
	}

	s.logger.Info("ingest: campaigns upserted",
		"campaigns", result.Campaigns,
		"creatives", result.Creatives,
		"batches", result.Batches)
	return result, nil
}

func (s *Service) upsertBatch(ctx context.Context, creatives []model.Creative) error {
	texts := make([]string, len(creatives))
	for i, c := range creatives {
		texts[i] = c.EmbeddingText()
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fault.Wrap(fault.Unavailable, "ingest: embed batch", err)
	}
	if len(vectors) != len(creatives) {
		return fault.Newf(fault.Internal, "ingest: embedder returned %d vectors for %d creatives", len(vectors), len(creatives))
	}

	items := make([]index.Item, len(creatives))
	for i, c := range creatives {
		items[i] = index.Item{
			CreativeID: c.CreativeID,
			Vector:     vectors[i],
			Payload:    c.VectorPayload(),
		}
	}
	return s.index.Upsert(ctx, items)
}

// EnsureCollection creates the collection for the configured embedding
// model if missing. Idempotent.
func (s *Service) EnsureCollection(ctx context.Context) (index.EnsureResult, error) {
	return s.index.EnsureCollection(ctx, uint64(s.embedder.Dimensions()), s.modelID, s.schemaVersion)
}

// CollectionInfo reports the live catalog state.
func (s *Service) CollectionInfo(ctx context.Context) (index.CollectionInfo, error) {
	return s.index.CollectionInfo(ctx)
}

// DeleteCreative removes one creative from the catalog.
func (s *Service) DeleteCreative(ctx context.Context, creativeID string) error {
	if creativeID == "" {
		return fault.New(fault.InvalidInput, "ingest: creative_id is required")
	}
	return s.index.Delete(ctx, creativeID)
}

// GetCreative returns a creative's stored payload. An unknown id is a
// structured not-found, not a transport error.
func (s *Service) GetCreative(ctx context.Context, creativeID string) (model.Payload, error) {
	if creativeID == "" {
		return nil, fault.New(fault.InvalidInput, "ingest: creative_id is required")
	}
	payload, ok, err := s.index.Get(ctx, creativeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.Newf(fault.NotFound, "ingest: creative %q not found", creativeID)
	}
	return payload, nil
}

// BulkDisable disables every creative matching the flat attribute spec
// and returns the number disabled.
func (s *Service) BulkDisable(ctx context.Context, spec map[string]any) (int, error) {
	if len(spec) == 0 {
		return 0, fault.New(fault.InvalidInput, "ingest: bulk disable requires a non-empty filter")
	}
	count, err := s.index.BulkDisable(ctx, spec)
	if err != nil {
		return count, err
	}
	s.logger.Info("ingest: bulk disable", "disabled", count)
	return count, nil
}
