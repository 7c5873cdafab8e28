package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/passagehq/passage/internal/errdefs"
)

// QdrantConfig configures the remote backend adapter.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimensions int
	Timeout    time.Duration
}

// QdrantIndex talks to a Qdrant server over its REST API. Point IDs are
// derived UUIDs (Qdrant accepts only UUIDs or unsigned integers); the
// caller's original ID travels in the payload so search hits can recover it.
// The collection is created on first use with the cosine distance metric.
type QdrantIndex struct {
	url        string
	apiKey     string
	collection string
	dimensions int
	client     *http.Client
}

// qdrantPoint is the wire shape of one point in an upsert request.
type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// NewQdrantIndex creates the adapter and ensures the remote collection exists
// with the configured dimensionality. An existing collection with a different
// dimensionality fails with errdefs.ErrConfiguration rather than being
// silently reused or recreated.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", errdefs.ErrConfiguration, cfg.Dimensions)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	q := &QdrantIndex{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}
	if err := q.ensureCollection(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

// ensureCollection verifies an existing collection's dimensionality or
// creates the collection when it does not exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := q.doJSON(ctx, http.MethodGet, q.collectionURL(""), nil, &info)
	if err != nil {
		return classifyNetErr("describe collection", err)
	}
	if status == http.StatusOK {
		if got := info.Result.Config.Params.Vectors.Size; got != q.dimensions {
			return fmt.Errorf("%w: collection %q has %d dimensions, configured for %d",
				errdefs.ErrConfiguration, q.collection, got, q.dimensions)
		}
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("%w: describe collection %q: status %d", errdefs.ErrBackendUnavailable, q.collection, status)
	}
	return q.createCollection(ctx)
}

func (q *QdrantIndex) createCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimensions,
			"distance": "Cosine",
		},
	}
	status, err := q.doJSON(ctx, http.MethodPut, q.collectionURL(""), body, nil)
	if err != nil {
		return classifyNetErr("create collection", err)
	}
	if status >= 300 {
		return fmt.Errorf("%w: create collection %q: status %d", errdefs.ErrBackendUnavailable, q.collection, status)
	}
	return nil
}

// Upsert writes points with ?wait=true so a success response means the write
// is applied, not merely queued. Write failures surface immediately; they are
// never retried here to avoid unacknowledged duplicate writes.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) (int, error) {
	for _, p := range points {
		if len(p.Vector) != q.dimensions {
			return 0, fmt.Errorf("%w: point %q has %d dimensions, index expects %d",
				errdefs.ErrDimensionMismatch, p.ID, len(p.Vector), q.dimensions)
		}
	}
	if len(points) == 0 {
		return 0, nil
	}
	wire := make([]qdrantPoint, len(points))
	for i, p := range points {
		wire[i] = qdrantPoint{
			ID:     RemotePointID(p.ID),
			Vector: p.Vector,
			Payload: map[string]any{
				"id":          p.ID,
				"document_id": p.Payload.DocumentID,
				"chunk_index": p.Payload.ChunkIndex,
				"text":        p.Payload.Text,
			},
		}
	}
	status, err := q.doJSON(ctx, http.MethodPut, q.collectionURL("/points?wait=true"), map[string]any{"points": wire}, nil)
	if err != nil {
		return 0, classifyNetErr("upsert points", err)
	}
	if status >= 300 {
		return 0, fmt.Errorf("%w: upsert into %q: status %d", errdefs.ErrIndexWriteFailure, q.collection, status)
	}
	return len(points), nil
}

// Search asks for payloads explicitly; without with_payload Qdrant returns
// scores only and hits could not be materialized into passages.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != q.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d",
			errdefs.ErrDimensionMismatch, len(query), q.dimensions)
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	body := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	status, err := q.doJSON(ctx, http.MethodPost, q.collectionURL("/points/search"), body, &resp)
	if err != nil {
		return nil, classifyNetErr("search points", err)
	}
	if status >= 300 {
		return nil, fmt.Errorf("%w: search %q: status %d", errdefs.ErrBackendUnavailable, q.collection, status)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hit := Hit{Score: r.Score}
		if v, ok := r.Payload["id"].(string); ok {
			hit.PointID = v
		}
		if v, ok := r.Payload["document_id"].(string); ok {
			hit.Payload.DocumentID = v
		}
		if v, ok := r.Payload["chunk_index"].(float64); ok {
			hit.Payload.ChunkIndex = int(v)
		}
		if v, ok := r.Payload["text"].(string); ok {
			hit.Payload.Text = v
		}
		hits = append(hits, hit)
	}
	sortHits(hits)
	return hits, nil
}

// Delete removes points by their original IDs.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	remote := make([]string, len(ids))
	for i, id := range ids {
		remote[i] = RemotePointID(id)
	}
	status, err := q.doJSON(ctx, http.MethodPost, q.collectionURL("/points/delete?wait=true"), map[string]any{"points": remote}, nil)
	if err != nil {
		return classifyNetErr("delete points", err)
	}
	if status >= 300 {
		return fmt.Errorf("%w: delete from %q: status %d", errdefs.ErrIndexWriteFailure, q.collection, status)
	}
	return nil
}

// Clear drops and recreates the collection, resetting any server-side
// configuration drift along with the data.
func (q *QdrantIndex) Clear(ctx context.Context) error {
	status, err := q.doJSON(ctx, http.MethodDelete, q.collectionURL(""), nil, nil)
	if err != nil {
		return classifyNetErr("drop collection", err)
	}
	if status >= 300 && status != http.StatusNotFound {
		return fmt.Errorf("%w: drop collection %q: status %d", errdefs.ErrIndexWriteFailure, q.collection, status)
	}
	return q.createCollection(ctx)
}

// Describe reports liveness without propagating network failures: an
// unreachable backend yields Alive=false and a nil point count.
func (q *QdrantIndex) Describe(ctx context.Context) Description {
	desc := Description{Backend: "qdrant", Dimensions: q.dimensions}
	var info struct {
		Result struct {
			PointsCount int `json:"points_count"`
		} `json:"result"`
	}
	status, err := q.doJSON(ctx, http.MethodGet, q.collectionURL(""), nil, &info)
	if err != nil || status >= 300 {
		return desc
	}
	desc.Alive = true
	n := info.Result.PointsCount
	desc.PointCount = &n
	return desc
}

// Close is a no-op; the adapter holds no connection state beyond the HTTP client pool.
func (q *QdrantIndex) Close() error {
	q.client.CloseIdleConnections()
	return nil
}

func (q *QdrantIndex) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", q.url, q.collection, suffix)
}

// doJSON performs one HTTP round trip with a JSON body and optional JSON
// response decoding. It returns the status code so callers can distinguish
// expected non-2xx statuses (e.g. 404 on describe) from failures.
func (q *QdrantIndex) doJSON(ctx context.Context, method, url string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, nil
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// classifyNetErr maps transport errors onto the shared taxonomy: deadline
// overruns become ErrTimeout, everything else ErrBackendUnavailable.
func classifyNetErr(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %v", errdefs.ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", errdefs.ErrBackendUnavailable, op, err)
}
