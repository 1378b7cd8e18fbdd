package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField stores the caller-supplied id (a cortex:// URI plus
// layer suffix, from VID) in the point payload, since Qdrant only
// accepts UUID or positive-integer point ids natively.
const payloadIDField = "_original_id"
const payloadContentField = "_content"
const payloadMetaField = "_metadata"

type qdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantStore connects to a Qdrant instance described by dsn
// (host:port, optionally https:// with an api_key query param) and
// ensures the configured collection exists with the given dimension
// and distance metric.
func NewQdrantStore(ctx context.Context, dsn, collection string, dimension int, metric string) (Store, error) {
	host, port, useTLS, apiKey, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port, UseTLS: useTLS}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	s := &qdrantStore{client: client, collection: collection, dimension: dimension}
	if err := s.ensureCollection(ctx, metric); err != nil {
		return nil, err
	}
	return s, nil
}

func parseDSN(dsn string) (host string, port int, useTLS bool, apiKey string, err error) {
	host, port, useTLS = "localhost", 6334, false
	if dsn == "" {
		return host, port, useTLS, "", nil
	}
	u, perr := url.Parse(dsn)
	if perr != nil || u.Host == "" {
		// treat as bare host:port
		parts := strings.SplitN(dsn, ":", 2)
		host = parts[0]
		if len(parts) == 2 {
			if p, perr2 := strconv.Atoi(parts[1]); perr2 == nil {
				port = p
			}
		}
		return host, port, useTLS, "", nil
	}
	host = u.Hostname()
	if p := u.Port(); p != "" {
		if pi, perr2 := strconv.Atoi(p); perr2 == nil {
			port = pi
		}
	}
	if u.Scheme == "https" {
		useTLS = true
	}
	apiKey = u.Query().Get("api_key")
	return host, port, useTLS, apiKey, nil
}

func (s *qdrantStore) ensureCollection(ctx context.Context, metric string) error {
	if s.dimension <= 0 {
		return fmt.Errorf("vector dimension must be > 0")
	}
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var dist qdrant.Distance
	switch strings.ToLower(metric) {
	case "l2", "euclidean":
		dist = qdrant.Distance_Euclid
	case "ip", "dot":
		dist = qdrant.Distance_Dot
	case "manhattan":
		dist = qdrant.Distance_Manhattan
	default:
		dist = qdrant.Distance_Cosine
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: dist,
		}),
	})
}

// pointID derives a Qdrant-acceptable point id: the original id if it
// already parses as a UUID, otherwise a deterministic UUIDv5 derived
// from it, so VID(uri, layer) stays stable across runs.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// buildPayload assembles rec into a Qdrant point payload: the
// bookkeeping fields (_original_id/_content/_metadata) plus every
// filterable field flattened to a top-level key, since Search's
// qdrant.NewMatch(key, val) conditions match against top-level keys, not
// the nested _metadata JSON blob.
func buildPayload(rec Record) (map[string]any, error) {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	payload := map[string]any{
		payloadIDField:      rec.ID,
		payloadContentField: rec.Content,
		payloadMetaField:    string(metaJSON),
	}
	if rec.Metadata.UserID != "" {
		payload["user_id"] = rec.Metadata.UserID
	}
	if rec.Metadata.AgentID != "" {
		payload["agent_id"] = rec.Metadata.AgentID
	}
	if rec.Metadata.RunID != "" {
		payload["run_id"] = rec.Metadata.RunID
	}
	for k, v := range rec.Metadata.Custom {
		payload[k] = v
	}
	return payload, nil
}

func (s *qdrantStore) Upsert(ctx context.Context, rec Record) error {
	payload, err := buildPayload(rec)
	if err != nil {
		return err
	}
	payloadValue, err := qdrant.NewValueMap(payload)
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(pointID(rec.ID)),
				Vectors: qdrant.NewVectorsDense(rec.Embedding),
				Payload: payloadValue,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (s *qdrantStore) Get(ctx context.Context, id string) (*Record, bool, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(pointID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("qdrant get: %w", err)
	}
	if len(points) == 0 {
		return nil, false, nil
	}
	rec := recordFromPayload(points[0].Payload)
	return rec, true, nil
}

func (s *qdrantStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorIDs([]*qdrant.PointId{qdrant.NewID(pointID(id))}),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func (s *qdrantStore) Search(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]SearchResult, error) {
	var must []*qdrant.Condition
	for key, val := range filter {
		must = append(must, qdrant.NewMatch(key, val))
	}
	var qFilter *qdrant.Filter
	if len(must) > 0 {
		qFilter = &qdrant.Filter{Must: must}
	}
	resp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Limit:          qdrant.PtrOf(uint64(k)),
		Filter:         qFilter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	out := make([]SearchResult, 0, len(resp))
	for _, p := range resp {
		rec := recordFromPayload(p.Payload)
		out = append(out, SearchResult{ID: rec.ID, Score: float64(p.Score), Content: rec.Content, Metadata: rec.Metadata})
	}
	return out, nil
}

func recordFromPayload(payload map[string]*qdrant.Value) *Record {
	rec := &Record{}
	if v, ok := payload[payloadIDField]; ok {
		rec.ID = v.GetStringValue()
	}
	if v, ok := payload[payloadContentField]; ok {
		rec.Content = v.GetStringValue()
	}
	if v, ok := payload[payloadMetaField]; ok {
		_ = json.Unmarshal([]byte(v.GetStringValue()), &rec.Metadata)
	}
	return rec
}

func (s *qdrantStore) Dimension() int { return s.dimension }

func (s *qdrantStore) Close() error {
	return s.client.Close()
}

var _ Store = (*qdrantStore)(nil)
