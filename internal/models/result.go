package models

// SearchHit is a single vector search result with its payload materialized.
// Hits are ordered by descending score; ties break by ascending chunk index,
// then document ID, so identical corpora always rank identically.
type SearchHit struct {
	PointID    string  `json:"point_id"`
	Score      float64 `json:"score"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
}

// AnswerResult is the outcome of a query. Answer is nil in retrieve-only mode
// and when generation fails; Sources are always the retrieved hits.
type AnswerResult struct {
	Answer *string `json:"answer"`
	// Sources are the hits retrieved for the query, in rank order.
	Sources []SearchHit `json:"sources"`
	// UsedSources is how many of Sources fit the prompt's token budget.
	// Less than len(Sources) when the context was truncated.
	UsedSources int `json:"used_sources"`
	// ContextTruncated is true when at least one retrieved passage was
	// dropped from the prompt to stay under the token budget.
	ContextTruncated bool `json:"context_truncated"`
	QueryTimeMS      int64 `json:"query_time_ms"`
}

// HealthStatus describes the active vector backend for health reporting.
// PointCount is nil when the backend cannot be reached.
type HealthStatus struct {
	Backend    string `json:"backend"`
	Alive      bool   `json:"alive"`
	PointCount *int   `json:"point_count"`
	Dimensions int    `json:"dimensions"`
	LatencyMS  int64  `json:"latency_ms"`
}

// ClearResult reports the outcome of clearing the index.
type ClearResult struct {
	OK      bool   `json:"ok"`
	Backend string `json:"backend"`
	Reset   bool   `json:"reset"`
}
