package vector

import (
	"bufio"
	"container/heap"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/passagehq/passage/internal/errdefs"
)

// snapshotVersion is the on-disk snapshot format version.
const snapshotVersion uint32 = 1

// MemoryIndex is an in-process vector index using brute-force inner product
// search over a dense vector matrix with parallel ID and payload arrays.
// Every mutation is persisted to a snapshot file via write-then-rename, so a
// crash can lose at most the in-flight write but never corrupts prior state.
type MemoryIndex struct {
	dimensions   int
	snapshotPath string

	mu       sync.RWMutex
	ids      []string
	vectors  [][]float32
	payloads []Payload
	byID     map[string]int
}

// NewMemoryIndex creates a memory index with the given dimensionality. If a
// snapshot exists at snapshotPath it is loaded; a snapshot written with a
// different dimensionality fails with errdefs.ErrConfiguration. An empty
// snapshotPath disables persistence.
func NewMemoryIndex(dimensions int, snapshotPath string) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", errdefs.ErrConfiguration, dimensions)
	}
	m := &MemoryIndex{
		dimensions:   dimensions,
		snapshotPath: snapshotPath,
		byID:         make(map[string]int),
	}
	if err := m.loadSnapshot(); err != nil {
		return nil, err
	}
	return m, nil
}

// Upsert validates every vector before touching state, so a bad batch is
// rejected whole and never partially applied.
func (m *MemoryIndex) Upsert(ctx context.Context, points []Point) (int, error) {
	for _, p := range points {
		if len(p.Vector) != m.dimensions {
			return 0, fmt.Errorf("%w: point %q has %d dimensions, index expects %d",
				errdefs.ErrDimensionMismatch, p.ID, len(p.Vector), m.dimensions)
		}
	}
	if len(points) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		vec := make([]float32, m.dimensions)
		copy(vec, p.Vector)
		if i, ok := m.byID[p.ID]; ok {
			m.vectors[i] = vec
			m.payloads[i] = p.Payload
			continue
		}
		m.byID[p.ID] = len(m.ids)
		m.ids = append(m.ids, p.ID)
		m.vectors = append(m.vectors, vec)
		m.payloads = append(m.payloads, p.Payload)
	}
	if err := m.saveSnapshotLocked(); err != nil {
		return 0, fmt.Errorf("%w: persist snapshot: %v", errdefs.ErrIndexWriteFailure, err)
	}
	return len(points), nil
}

// scoredHeap is a min-heap over hit scores used for partial top-k selection,
// so search stays O(n log k) instead of sorting the whole index.
type scoredHeap []Hit

func (h scoredHeap) Len() int      { return len(h) }
func (h scoredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h scoredHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	// Inverted tie-break: the heap evicts its worst element, so the hit that
	// would rank last under sortHits must compare lowest here.
	if h[i].Payload.ChunkIndex != h[j].Payload.ChunkIndex {
		return h[i].Payload.ChunkIndex > h[j].Payload.ChunkIndex
	}
	return h[i].Payload.DocumentID > h[j].Payload.DocumentID
}
func (h *scoredHeap) Push(x any) { *h = append(*h, x.(Hit)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Search returns the top-k points by inner product. Vectors are expected to be
// normalized, making the score cosine similarity.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d",
			errdefs.ErrDimensionMismatch, len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return []Hit{}, nil
	}
	h := make(scoredHeap, 0, k+1)
	heap.Init(&h)
	for i, vec := range m.vectors {
		var dot float64
		for j := 0; j < m.dimensions; j++ {
			dot += float64(query[j] * vec[j])
		}
		heap.Push(&h, Hit{PointID: m.ids[i], Score: dot, Payload: m.payloads[i]})
		if len(h) > k {
			heap.Pop(&h)
		}
	}
	hits := []Hit(h)
	sortHits(hits)
	return hits, nil
}

// Delete removes points by ID, rebuilding the parallel arrays.
func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	removeSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	newIDs := m.ids[:0]
	newVectors := m.vectors[:0]
	newPayloads := m.payloads[:0]
	byID := make(map[string]int, len(m.ids))
	for i, id := range m.ids {
		if removeSet[id] {
			continue
		}
		byID[id] = len(newIDs)
		newIDs = append(newIDs, id)
		newVectors = append(newVectors, m.vectors[i])
		newPayloads = append(newPayloads, m.payloads[i])
	}
	m.ids = newIDs
	m.vectors = newVectors
	m.payloads = newPayloads
	m.byID = byID
	if err := m.saveSnapshotLocked(); err != nil {
		return fmt.Errorf("%w: persist snapshot: %v", errdefs.ErrIndexWriteFailure, err)
	}
	return nil
}

// Clear drops all points and persists the empty state.
func (m *MemoryIndex) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = nil
	m.vectors = nil
	m.payloads = nil
	m.byID = make(map[string]int)
	if err := m.saveSnapshotLocked(); err != nil {
		return fmt.Errorf("%w: persist snapshot: %v", errdefs.ErrIndexWriteFailure, err)
	}
	return nil
}

// Describe reports the backend state. A memory index is always alive.
func (m *MemoryIndex) Describe(ctx context.Context) Description {
	m.mu.RLock()
	n := len(m.ids)
	m.mu.RUnlock()
	return Description{Backend: "memory", PointCount: &n, Dimensions: m.dimensions, Alive: true}
}

// Close is a no-op; every mutation already persisted a snapshot.
func (m *MemoryIndex) Close() error {
	return nil
}

// saveSnapshotLocked writes the snapshot to a temporary file and renames it
// over the target, so readers of the old snapshot never see a torn write.
// Callers must hold mu.
func (m *MemoryIndex) saveSnapshotLocked() error {
	if m.snapshotPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.snapshotPath), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := m.snapshotPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	w := bufio.NewWriter(f)
	err = m.writeSnapshot(w)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// writeSnapshot serializes version, dimensionality, count, then per point:
// ID, vector, and payload fields. Strings are length-prefixed; numbers are
// little-endian.
func (m *MemoryIndex) writeSnapshot(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, snapshotVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.ids))); err != nil {
		return err
	}
	for i, id := range m.ids {
		if err := writeString(w, id); err != nil {
			return err
		}
		if _, err := w.Write(float32SliceToBytes(m.vectors[i])); err != nil {
			return err
		}
		p := m.payloads[i]
		if err := writeString(w, p.DocumentID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(p.ChunkIndex)); err != nil {
			return err
		}
		if err := writeString(w, p.Text); err != nil {
			return err
		}
	}
	return nil
}

// loadSnapshot reads the snapshot file if present and replaces the index
// contents. A missing file leaves the index empty without error.
func (m *MemoryIndex) loadSnapshot() error {
	if m.snapshotPath == "" {
		return nil
	}
	f, err := os.Open(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var version, dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("read snapshot version: %w", err)
	}
	if version != snapshotVersion {
		return fmt.Errorf("%w: snapshot version %d, expected %d", errdefs.ErrConfiguration, version, snapshotVersion)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read snapshot dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("%w: snapshot has %d dimensions, index configured for %d",
			errdefs.ErrConfiguration, dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read snapshot count: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}
	// Each point occupies at least three length prefixes, the chunk index,
	// and the raw vector. A count the file cannot possibly hold means a
	// corrupt header; reject it before allocating anything count-sized.
	minPointBytes := uint64(16 + m.dimensions*4)
	if uint64(n)*minPointBytes > uint64(info.Size()) {
		return fmt.Errorf("%w: snapshot count %d exceeds file size %d bytes",
			errdefs.ErrConfiguration, n, info.Size())
	}
	m.ids = make([]string, 0, n)
	m.vectors = make([][]float32, 0, n)
	m.payloads = make([]Payload, 0, n)
	m.byID = make(map[string]int, n)
	vecBuf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		id, err := readString(r)
		if err != nil {
			return fmt.Errorf("read point id: %w", err)
		}
		if _, err := io.ReadFull(r, vecBuf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		var p Payload
		if p.DocumentID, err = readString(r); err != nil {
			return fmt.Errorf("read payload document id: %w", err)
		}
		var chunkIndex uint32
		if err := binary.Read(r, binary.LittleEndian, &chunkIndex); err != nil {
			return fmt.Errorf("read payload chunk index: %w", err)
		}
		p.ChunkIndex = int(chunkIndex)
		if p.Text, err = readString(r); err != nil {
			return fmt.Errorf("read payload text: %w", err)
		}
		m.byID[id] = len(m.ids)
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, bytesToFloat32Slice(vecBuf))
		m.payloads = append(m.payloads, p)
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
