package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nebulus/gantry/internal/platform/ctxutil"
	"github.com/nebulus/gantry/internal/platform/envutil"
	"github.com/nebulus/gantry/internal/platform/logger"
)

const (
	payloadNamespaceKey = "_gantry_namespace"
	payloadVectorIDKey  = "_gantry_vector_id"
	maxErrorBodyBytes   = 1024
)

// Qdrant point ids must be UUIDs; vector ids are hashed into this namespace
// together with the qualified index namespace.
var pointIDNamespaceUUID = uuid.MustParse("7d4c2b61-9a0e-4f3d-8c52-6b1de0a9f417")

type qdrantStore struct {
	log        *logger.Logger
	baseURL    string
	collection string
	vectorDim  int
	nsPrefix   string
	http       *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

// NewQdrant builds a Store against a Qdrant collection configured via
// QDRANT_URL, QDRANT_COLLECTION, QDRANT_VECTOR_DIM and QDRANT_NS_PREFIX.
// The collection is created with cosine distance when missing.
func NewQdrant(log *logger.Logger) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	url := strings.TrimSpace(os.Getenv("QDRANT_URL"))
	if url == "" {
		return nil, fmt.Errorf("missing QDRANT_URL")
	}
	collection := envutil.Str("QDRANT_COLLECTION", "gantry_chunks")
	dim := envutil.Int("QDRANT_VECTOR_DIM", 768)

	s := &qdrantStore{
		log:        log.With("service", "QdrantStore"),
		baseURL:    strings.TrimRight(url, "/"),
		collection: collection,
		vectorDim:  dim,
		nsPrefix:   envutil.Str("QDRANT_NS_PREFIX", "gantry"),
		http:       &http.Client{Timeout: 10 * time.Second},
	}
	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, err
	}
	log.Info("qdrant vector store ready",
		"url", s.baseURL,
		"collection", collection,
		"vector_dim", dim,
	)
	return s, nil
}

func (s *qdrantStore) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	ns := s.qualifyNamespace(namespace)
	points := make([]map[string]any, 0, len(vectors))
	for _, v := range vectors {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return fmt.Errorf("qdrant upsert: vector id is required")
		}
		if s.vectorDim > 0 && len(v.Values) != s.vectorDim {
			return fmt.Errorf("qdrant upsert: vector %q dimension mismatch: expected=%d got=%d", id, s.vectorDim, len(v.Values))
		}
		payload := make(map[string]any, len(v.Metadata)+2)
		for k, val := range v.Metadata {
			payload[k] = val
		}
		payload[payloadNamespaceKey] = ns
		payload[payloadVectorIDKey] = id
		points = append(points, map[string]any{
			"id":      s.pointID(ns, id),
			"vector":  v.Values,
			"payload": payload,
		})
	}
	return s.doJSON(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil)
}

func (s *qdrantStore) Query(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]Match, error) {
	if len(q) == 0 {
		return nil, fmt.Errorf("qdrant query: query vector required")
	}
	if topK <= 0 {
		topK = 10
	}
	ns := s.qualifyNamespace(namespace)

	must := []map[string]any{
		{"key": payloadNamespaceKey, "match": map[string]any{"value": ns}},
	}
	for k, v := range filter {
		must = append(must, map[string]any{"key": k, "match": map[string]any{"value": v}})
	}

	req := map[string]any{
		"vector":       q,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
		"filter":       map[string]any{"must": must},
	}
	var raw []qdrantSearchResultItem
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &raw); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(raw))
	for _, item := range raw {
		id, _ := item.Payload[payloadVectorIDKey].(string)
		if strings.TrimSpace(id) == "" {
			continue
		}
		out = append(out, Match{ID: id, Score: item.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (s *qdrantStore) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ns := s.qualifyNamespace(namespace)
	pointIDs := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		pid := s.pointID(ns, id)
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		pointIDs = append(pointIDs, pid)
	}
	if len(pointIDs) == 0 {
		return nil
	}
	return s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"points": pointIDs}, nil)
}

func (s *qdrantStore) ensureCollection(ctx context.Context) error {
	err := s.doJSON(ctx, http.MethodGet, s.collectionPath(""), nil, nil)
	if err == nil {
		return nil
	}
	create := map[string]any{
		"vectors": map[string]any{
			"size":     s.vectorDim,
			"distance": "Cosine",
		},
	}
	return s.doJSON(ctx, http.MethodPut, s.collectionPath(""), create, nil)
}

func (s *qdrantStore) doJSON(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("qdrant encode request: %w", err)
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("qdrant read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := raw
		if len(snippet) > maxErrorBodyBytes {
			snippet = snippet[:maxErrorBodyBytes]
		}
		return fmt.Errorf("qdrant http status=%d body=%q", resp.StatusCode, string(snippet))
	}
	if out == nil {
		return nil
	}
	var env qdrantEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("qdrant decode envelope: %w", err)
	}
	if len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

func (s *qdrantStore) collectionPath(suffix string) string {
	return "/collections/" + s.collection + suffix
}

func (s *qdrantStore) qualifyNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return s.nsPrefix
	}
	return s.nsPrefix + ":" + ns
}

func (s *qdrantStore) pointID(namespace, vectorID string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(namespace+"\x00"+vectorID)).String()
}
