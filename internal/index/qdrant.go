package index

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/sponsorlabs/placemint/internal/fault"
	"github.com/sponsorlabs/placemint/internal/filter"
	"github.com/sponsorlabs/placemint/internal/model"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	// Namespace is the UUID-v5 namespace for content-derived point ids.
	Namespace uuid.UUID
}

// QdrantIndex implements Index backed by Qdrant.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	namespace  uuid.UUID
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error; inner error may be nil
	healthAt    atomic.Int64 // unix nanos of last check
}

// metaPointID identifies the single bookkeeping point in the meta
// collection holding model id and schema version.
var metaPointID = uuid.Nil.String()

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("index: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("index: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantIndex connects to the Qdrant server via gRPC.
func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("index: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		namespace:  cfg.Namespace,
		logger:     logger,
	}, nil
}

// pointID derives the stable content-derived point id for a creative.
func (q *QdrantIndex) pointID(creativeID string) string {
	return uuid.NewSHA1(q.namespace, []byte(creativeID)).String()
}

func (q *QdrantIndex) metaCollection() string {
	return q.collection + "_meta"
}

// EnsureCollection creates the collection if it doesn't already exist and
// ensures payload indexes are present. CreateFieldIndex is idempotent on
// Qdrant, so index creation is always attempted to backfill indexes added
// after the collection was first created.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dimension uint64, modelID, schemaVersion string) (EnsureResult, error) {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return EnsureResult{}, fault.Wrap(fault.Unavailable, "index: check collection exists", err)
	}

	if !exists {
		m := uint64(16)
		efConstruct := uint64(128)

		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dimension,
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           &m,
					EfConstruct: &efConstruct,
				},
			}),
		}); err != nil {
			return EnsureResult{}, fault.Wrapf(fault.Unavailable, err, "index: create collection %q", q.collection)
		}
		q.logger.Info("qdrant: created collection", "collection", q.collection, "dims", dimension)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{
		"creative_id", "campaign_id", "advertiser_id",
		"topics", "locale", "verticals", "audience_segments", "keywords",
	} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return EnsureResult{}, fault.Wrapf(fault.Unavailable, err, "index: ensure index on %q", field)
		}
	}

	boolType := qdrant.FieldType_FieldTypeBool
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "enabled",
		FieldType:      &boolType,
	}); err != nil {
		return EnsureResult{}, fault.Wrap(fault.Unavailable, "index: ensure index on enabled", err)
	}

	if err := q.writeMeta(ctx, dimension, modelID, schemaVersion); err != nil {
		return EnsureResult{}, err
	}

	return EnsureResult{
		Name:          q.collection,
		Created:       !exists,
		Dimension:     dimension,
		ModelID:       modelID,
		SchemaVersion: schemaVersion,
	}, nil
}

// writeMeta records dimension, model id, and schema version in a tiny
// sibling collection so CollectionInfo can report them after restarts.
func (q *QdrantIndex) writeMeta(ctx context.Context, dimension uint64, modelID, schemaVersion string) error {
	meta := q.metaCollection()
	exists, err := q.client.CollectionExists(ctx, meta)
	if err != nil {
		return fault.Wrap(fault.Unavailable, "index: check meta collection", err)
	}
	if !exists {
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: meta,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     1,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fault.Wrap(fault.Unavailable, "index: create meta collection", err)
		}
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: meta,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(metaPointID),
			Vectors: qdrant.NewVectorsDense([]float32{0}),
			Payload: qdrant.NewValueMap(map[string]any{
				"dimension":      int64(dimension),
				"model_id":       modelID,
				"schema_version": schemaVersion,
			}),
		}},
	})
	if err != nil {
		return fault.Wrap(fault.Unavailable, "index: write collection meta", err)
	}
	return nil
}

// CollectionInfo reports live collection state plus the recorded meta.
func (q *QdrantIndex) CollectionInfo(ctx context.Context) (CollectionInfo, error) {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return CollectionInfo{}, fault.Wrap(fault.Unavailable, "index: check collection exists", err)
	}
	if !exists {
		return CollectionInfo{}, fault.Newf(fault.NotFound, "index: collection %q does not exist", q.collection)
	}

	info, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil {
		return CollectionInfo{}, fault.Wrap(fault.Unavailable, "index: collection info", err)
	}

	out := CollectionInfo{
		Name:   q.collection,
		Status: info.GetStatus().String(),
	}
	if pc := info.GetPointsCount(); pc != 0 {
		out.PointsCount = pc
	}
	if ivc := info.GetIndexedVectorsCount(); ivc != 0 {
		out.IndexedVectorsCount = ivc
	}

	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.metaCollection(),
		Ids:            []*qdrant.PointId{qdrant.NewID(metaPointID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err == nil && len(points) == 1 {
		meta := payloadToMap(points[0].Payload)
		p := model.Payload(meta)
		out.ModelID = p.Str("model_id")
		out.SchemaVersion = p.Str("schema_version")
		out.Dimension = uint64(p.Float("dimension", 0))
	}
	return out, nil
}

// DeleteCollection drops the collection and its meta sibling.
func (q *QdrantIndex) DeleteCollection(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return fault.Wrapf(fault.Unavailable, err, "index: delete collection %q", q.collection)
	}
	if err := q.client.DeleteCollection(ctx, q.metaCollection()); err != nil {
		return fault.Wrap(fault.Unavailable, "index: delete meta collection", err)
	}
	return nil
}

// Upsert inserts or updates creatives in the catalog.
func (q *QdrantIndex) Upsert(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(items))
	for i, item := range items {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(q.pointID(item.CreativeID)),
			Vectors: qdrant.NewVectorsDense(item.Vector),
			Payload: payloadValues(item.Payload),
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fault.Wrapf(fault.Unavailable, err, "index: upsert %d points", len(items))
	}
	return nil
}

// Delete removes one creative from the catalog.
func (q *QdrantIndex) Delete(ctx context.Context, creativeID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrant.NewID(q.pointID(creativeID))},
				},
			},
		},
	})
	if err != nil {
		return fault.Wrapf(fault.Unavailable, err, "index: delete creative %q", creativeID)
	}
	return nil
}

// Get returns the stored payload for one creative.
func (q *QdrantIndex) Get(ctx context.Context, creativeID string) (model.Payload, bool, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(q.pointID(creativeID))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, false, fault.Wrapf(fault.Unavailable, err, "index: get creative %q", creativeID)
	}
	if len(points) == 0 {
		return nil, false, nil
	}
	return model.Payload(payloadToMap(points[0].Payload)), true, nil
}

// translate converts a filter expression into Qdrant conditions. Negative
// operators contribute their positive form to must_not, so a not_in inside
// the expression's MustNot excludes the listed values rather than
// double-negating. all_of expands to one condition per value and is only
// meaningful in Must.
func translate(expr filter.Expression) (*qdrant.Filter, error) {
	out := &qdrant.Filter{}

	add := func(p filter.Predicate, inMustNot bool) error {
		var conds []*qdrant.Condition
		negative := false

		switch p.Op {
		case filter.OpEquals:
			conds = []*qdrant.Condition{qdrant.NewMatch(p.Field, p.Value)}
		case filter.OpAnyOf:
			conds = []*qdrant.Condition{qdrant.NewMatchKeywords(p.Field, p.Values...)}
		case filter.OpAllOf:
			if inMustNot {
				return fault.Newf(fault.InvalidInput, "index: all_of is not supported in must_not (field %q)", p.Field)
			}
			for _, v := range p.Values {
				conds = append(conds, qdrant.NewMatch(p.Field, v))
			}
		case filter.OpNotEquals:
			conds = []*qdrant.Condition{qdrant.NewMatch(p.Field, p.Value)}
			negative = true
		case filter.OpNotIn:
			conds = []*qdrant.Condition{qdrant.NewMatchKeywords(p.Field, p.Values...)}
			negative = true
		default:
			return fault.Newf(fault.InvalidInput, "index: unknown filter operator %q", p.Op)
		}

		if negative || inMustNot {
			out.MustNot = append(out.MustNot, conds...)
		} else {
			out.Must = append(out.Must, conds...)
		}
		return nil
	}

	for _, p := range expr.Must {
		if err := add(p, false); err != nil {
			return nil, err
		}
	}
	for _, p := range expr.MustNot {
		if err := add(p, true); err != nil {
			return nil, err
		}
	}

	// Disabled creatives never match, regardless of the expression.
	out.MustNot = append(out.MustNot, qdrant.NewMatchBool("enabled", false))
	return out, nil
}

// Query runs a filtered k-NN search. Hits come back in the index's
// similarity order with their full payloads.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, expr filter.Expression, topK int) ([]Hit, error) {
	qf, err := translate(expr)
	if err != nil {
		return nil, err
	}

	limit := uint64(topK) //nolint:gosec // topK is bounded by the service
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vector),
		Filter:         qf,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fault.Wrap(fault.Unavailable, "index: qdrant query", err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, sp := range scored {
		payload := model.Payload(payloadToMap(sp.Payload))
		hits = append(hits, Hit{
			CreativeID:   payload.Str("creative_id"),
			CampaignID:   payload.Str("campaign_id"),
			AdvertiserID: payload.Str("advertiser_id"),
			Score:        sp.Score,
			Payload:      payload,
		})
	}
	return hits, nil
}

// bulkDisableBatch bounds each scroll-and-update round.
const bulkDisableBatch = 256

// BulkDisable matches creatives by a flat attribute spec and sets
// enabled=false. Each round re-scrolls with enabled != false so already
// disabled points drop out of the match set; the loop terminates when
// the filter matches nothing.
func (q *QdrantIndex) BulkDisable(ctx context.Context, spec map[string]any) (int, error) {
	qf, err := specFilter(spec)
	if err != nil {
		return 0, err
	}
	qf.MustNot = append(qf.MustNot, qdrant.NewMatchBool("enabled", false))

	disabled := 0
	for {
		limit := uint32(bulkDisableBatch)
		points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Filter:         qf,
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(false),
		})
		if err != nil {
			return disabled, fault.Wrap(fault.Unavailable, "index: bulk disable scroll", err)
		}
		if len(points) == 0 {
			return disabled, nil
		}

		ids := make([]*qdrant.PointId, len(points))
		for i, p := range points {
			ids[i] = p.Id
		}
		_, err = q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: q.collection,
			Wait:           qdrant.PtrOf(true),
			Payload:        qdrant.NewValueMap(map[string]any{"enabled": false}),
			PointsSelector: qdrant.NewPointsSelector(ids...),
		})
		if err != nil {
			return disabled, fault.Wrap(fault.Unavailable, "index: bulk disable set payload", err)
		}
		disabled += len(points)
		q.logger.Info("qdrant: bulk disable round", "disabled", len(points), "total", disabled)
	}
}

// specFilter converts a flat attribute map (scalar or list values) into
// a Qdrant must filter.
func specFilter(spec map[string]any) (*qdrant.Filter, error) {
	out := &qdrant.Filter{}
	for field, value := range spec {
		switch v := value.(type) {
		case string:
			out.Must = append(out.Must, qdrant.NewMatch(field, v))
		case bool:
			out.Must = append(out.Must, qdrant.NewMatchBool(field, v))
		case []string:
			out.Must = append(out.Must, qdrant.NewMatchKeywords(field, v...))
		case []any:
			keywords := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fault.Newf(fault.InvalidInput, "index: non-string value in list for field %q", field)
				}
				keywords = append(keywords, s)
			}
			out.Must = append(out.Must, qdrant.NewMatchKeywords(field, keywords...))
		default:
			return nil, fault.Newf(fault.InvalidInput, "index: unsupported filter value type %T for field %q", value, field)
		}
	}
	return out, nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5
// seconds; concurrent checks after expiry are deduplicated via
// singleflight so only one gRPC call is made.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	if time.Since(time.Unix(0, q.healthAt.Load())) < 5*time.Second {
		return q.loadHealthErr()
	}

	// Use context.Background() instead of the caller's ctx because
	// singleflight reuses the first caller's context; if that caller
	// cancels, all waiters would get a stale error.
	result, _, _ := q.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := q.client.HealthCheck(checkCtx)
		if err != nil {
			q.storeHealthErr(fault.Wrap(fault.Unavailable, "index: qdrant unhealthy", err))
		} else {
			q.storeHealthErr(nil)
		}
		q.healthAt.Store(time.Now().UnixNano())
		return q.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

// storeHealthErr stores an error (or nil) in the atomic.Value.
// atomic.Value cannot store nil directly, so it is wrapped in a pointer.
func (q *QdrantIndex) storeHealthErr(err error) {
	q.healthErr.Store(&err)
}

func (q *QdrantIndex) loadHealthErr() error {
	v := q.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// payloadValues converts an attribute bag to qdrant payload values.
// String slices are widened to []any first; NewValueMap accepts only
// the generic slice type.
func payloadValues(payload map[string]any) map[string]*qdrant.Value {
	sanitized := make(map[string]any, len(payload))
	for k, v := range payload {
		if ss, ok := v.([]string); ok {
			vals := make([]any, len(ss))
			for i, s := range ss {
				vals[i] = s
			}
			sanitized[k] = vals
			continue
		}
		sanitized[k] = v
	}
	return qdrant.NewValueMap(sanitized)
}

// payloadToMap converts Qdrant payload values into plain Go values.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueToAny(item)
		}
		return out
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}
