package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/sponsorlabs/placemint/internal/embedding"
	"github.com/sponsorlabs/placemint/internal/filter"
	"github.com/sponsorlabs/placemint/internal/index"
	"github.com/sponsorlabs/placemint/internal/ingest"
	"github.com/sponsorlabs/placemint/internal/model"
)

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

// parseToolJSON unmarshals the tool payload into a generic map.
func parseToolJSON(t *testing.T, result *mcplib.CallToolResult) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &m))
	return m
}

// errorKind extracts the kind from an error envelope.
func errorKind(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.True(t, result.IsError, "expected an error envelope")
	m := parseToolJSON(t, result)
	errObj, ok := m["error"].(map[string]any)
	require.True(t, ok, "envelope missing error object")
	kind, _ := errObj["kind"].(string)
	return kind
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMatcher serves canned pipeline results.
type fakeMatcher struct {
	resp    model.MatchResponse
	trace   model.AuditTrace
	err     error
	lastReq model.MatchRequest
}

func (f *fakeMatcher) Match(_ context.Context, req model.MatchRequest) (model.MatchResponse, model.AuditTrace, error) {
	f.lastReq = req
	return f.resp, f.trace, f.err
}

func (f *fakeMatcher) Explain(_ context.Context, _ string) (model.AuditTrace, error) {
	return f.trace, f.err
}

// fakeIndex is a tiny in-memory catalog satisfying index.Index.
type fakeIndex struct {
	items     map[string]index.Item
	healthErr error
	disabled  int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{items: map[string]index.Item{}}
}

func (f *fakeIndex) EnsureCollection(_ context.Context, dim uint64, modelID, schemaVersion string) (index.EnsureResult, error) {
	return index.EnsureResult{Name: "creatives", Created: true, Dimension: dim, ModelID: modelID, SchemaVersion: schemaVersion}, nil
}

func (f *fakeIndex) CollectionInfo(_ context.Context) (index.CollectionInfo, error) {
	return index.CollectionInfo{Name: "creatives", Dimension: 4, ModelID: "noop", SchemaVersion: "v1", PointsCount: uint64(len(f.items)), Status: "green"}, nil
}

func (f *fakeIndex) DeleteCollection(_ context.Context) error { return nil }

func (f *fakeIndex) Upsert(_ context.Context, items []index.Item) error {
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

func (f *fakeIndex) Healthy(_ context.Context) error { return f.healthErr }
func (f *fakeIndex) Close() error                    { return nil }

func newTestIngest(idx index.Index) *ingest.Service {
	return ingest.NewService(idx, embedding.NewNoopProvider(4), testLogger(),
		ingest.Options{ModelID: "noop", SchemaVersion: "v1"})
}
