// Package vector provides the vector index abstraction and its backends.
package vector

import (
	"context"
	"sort"
)

// Payload is the metadata stored alongside each vector. It is sufficient to
// materialize a passage without consulting any other store.
type Payload struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// Point is the persisted unit inside an index: a vector plus its payload,
// keyed by a caller-chosen ID. Backends that constrain ID formats derive a
// compliant ID internally and keep the original recoverable via the payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is a single search result.
type Hit struct {
	PointID string
	Score   float64
	Payload Payload
}

// Description reports backend identity and health. PointCount is nil when the
// backend cannot be reached.
type Description struct {
	Backend    string
	PointCount *int
	Dimensions int
	Alive      bool
}

// Index is the vector storage contract shared by the memory and qdrant
// backends. All vectors must match the index's configured dimensionality;
// mismatches fail with errdefs.ErrDimensionMismatch and are never partially
// applied. Implementations must be safe for concurrent use.
type Index interface {
	// Upsert inserts points, replacing any existing point with the same ID.
	// Returns the number of points written.
	Upsert(ctx context.Context, points []Point) (int, error)
	// Search returns up to k hits ordered by descending similarity.
	// An empty index or k <= 0 yields an empty result, not an error.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Delete removes points by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error
	// Clear drops all points. The remote backend recreates its collection so
	// server-side configuration drift is also reset.
	Clear(ctx context.Context) error
	// Describe reports backend kind, point count, and liveness. It does not
	// fail on an unreachable backend; it reports Alive=false instead.
	Describe(ctx context.Context) Description
	Close() error
}

// sortHits orders hits by descending score, breaking ties by ascending chunk
// index then document ID so equal-score results rank deterministically.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Payload.ChunkIndex != hits[j].Payload.ChunkIndex {
			return hits[i].Payload.ChunkIndex < hits[j].Payload.ChunkIndex
		}
		return hits[i].Payload.DocumentID < hits[j].Payload.DocumentID
	})
}
