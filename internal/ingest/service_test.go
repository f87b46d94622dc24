package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sponsorlabs/placemint/internal/embedding"
	"github.com/sponsorlabs/placemint/internal/fault"
	"github.com/sponsorlabs/placemint/internal/filter"
	"github.com/sponsorlabs/placemint/internal/index"
	"github.com/sponsorlabs/placemint/internal/model"
)

// fakeIndex records upserts and serves a tiny in-memory catalog.
type fakeIndex struct {
	upsertCalls int
	items       map[string]index.Item
	disabled    int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{items: map[string]index.Item{}}
}

func (f *fakeIndex) EnsureCollection(_ context.Context, dim uint64, modelID, schemaVersion string) (index.EnsureResult, error) {
	return index.EnsureResult{Name: "creatives", Created: true, Dimension: dim, ModelID: modelID, SchemaVersion: schemaVersion}, nil
}

func (f *fakeIndex) CollectionInfo(_ context.Context) (index.CollectionInfo, error) {
	return index.CollectionInfo{Name: "creatives", PointsCount: uint64(len(f.items))}, nil
}

func (f *fakeIndex) DeleteCollection(_ context.Context) error { return nil }

func (f *fakeIndex) Upsert(_ context.Context, items []index.Item) error {
	f.upsertCalls++
	for _, item := range items {
		f.items[item.CreativeID] = item
	}
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, creativeID string) error {
	delete(f.items, creativeID)
	return nil
}

func (f *fakeIndex) Get(_ context.Context, creativeID string) (model.Payload, bool, error) {
	item, ok := f.items[creativeID]
	if !ok {
		return nil, false, nil
	}
	return model.Payload(item.Payload), true, nil
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, _ filter.Expression, _ int) ([]index.Hit, error) {
	return nil, nil
}

func (f *fakeIndex) BulkDisable(_ context.Context, _ map[string]any) (int, error) {
	f.disabled = len(f.items)
	return f.disabled, nil
}

func (f *fakeIndex) Healthy(_ context.Context) error { return nil }
func (f *fakeIndex) Close() error                    { return nil }

func newTestService(t *testing.T, idx index.Index, batchSize int) *Service {
	t.Helper()
	return NewService(idx, embedding.NewNoopProvider(4),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Options{MaxBatchSize: batchSize, ModelID: "noop", SchemaVersion: "v1"})
}

func campaign(id string, creativeIDs ...string) model.Campaign {
	specs := make([]model.CreativeSpec, len(creativeIDs))
	for i, cid := range creativeIDs {
		specs[i] = model.CreativeSpec{CreativeID: cid, Title: "Title " + cid, Body: "Body"}
	}
	return model.Campaign{
		CampaignID:   id,
		AdvertiserID: "adv-1",
		Name:         "Campaign " + id,
		Creatives:    specs,
		Targeting:    model.Targeting{Topics: []string{"go"}},
	}
}

func TestUpsertCampaigns_ExpandsAndStores(t *testing.T) {
	idx := newFakeIndex()
	s := newTestService(t, idx, 0)

	res, err := s.UpsertCampaigns(context.Background(), []model.Campaign{
		campaign("camp-1", "cr-1", "cr-2"),
		campaign("camp-2", "cr-3"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Campaigns)
	assert.Equal(t, 3, res.Creatives)
	assert.Equal(t, 1, res.Batches)
	require.Len(t, idx.items, 3)

	// Creatives inherit campaign metadata.
	payload := model.Payload(idx.items["cr-1"].Payload)
	assert.Equal(t, "camp-1", payload.Str("campaign_id"))
	assert.Equal(t, "adv-1", payload.Str("advertiser_id"))
	assert.Equal(t, []string{"go"}, payload.StrList("topics"))
	assert.True(t, payload.Enabled())
}

func TestUpsertCampaigns_Batches(t *testing.T) {
	idx := newFakeIndex()
	s := newTestService(t, idx, 2)

	res, err := s.UpsertCampaigns(context.Background(), []model.Campaign{
		campaign("camp-1", "cr-1", "cr-2", "cr-3", "cr-4", "cr-5"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 3, idx.upsertCalls)
	assert.Len(t, idx.items, 5)
}

func TestUpsertCampaigns_InvalidCampaign(t *testing.T) {
	s := newTestService(t, newFakeIndex(), 0)

	_, err := s.UpsertCampaigns(context.Background(), []model.Campaign{
		{CampaignID: "", AdvertiserID: "adv-1"},
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
}

func TestGetCreative(t *testing.T) {
	idx := newFakeIndex()
	s := newTestService(t, idx, 0)
	_, err := s.UpsertCampaigns(context.Background(), []model.Campaign{campaign("camp-1", "cr-1")})
	require.NoError(t, err)

	payload, err := s.GetCreative(context.Background(), "cr-1")
	require.NoError(t, err)
	assert.Equal(t, "Title cr-1", payload.Str("title"))

	_, err = s.GetCreative(context.Background(), "cr-missing")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.NotFound))

	_, err = s.GetCreative(context.Background(), "")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
}

func TestDeleteCreative(t *testing.T) {
	idx := newFakeIndex()
	s := newTestService(t, idx, 0)
	_, err := s.UpsertCampaigns(context.Background(), []model.Campaign{campaign("camp-1", "cr-1")})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCreative(context.Background(), "cr-1"))
	_, err = s.GetCreative(context.Background(), "cr-1")
	assert.True(t, fault.IsKind(err, fault.NotFound))

	err = s.DeleteCreative(context.Background(), "")
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
}

func TestBulkDisable_RequiresFilter(t *testing.T) {
	s := newTestService(t, newFakeIndex(), 0)
	_, err := s.BulkDisable(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
}

func TestEnsureCollection_UsesEmbedderDimensions(t *testing.T) {
	s := newTestService(t, newFakeIndex(), 0)
	res, err := s.EnsureCollection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Dimension)
	assert.Equal(t, "noop", res.ModelID)
	assert.Equal(t, "v1", res.SchemaVersion)
}
