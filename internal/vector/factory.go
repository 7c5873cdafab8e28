package vector

import (
	"context"
	"fmt"

	"github.com/passagehq/passage/internal/config"
	"github.com/passagehq/passage/internal/errdefs"
)

// New creates the vector index selected by cfg.Backend: "memory" (default)
// or "qdrant". When cfg.ResetOnStartup is set the index is cleared before
// being returned.
func New(cfg config.IndexConfig) (Index, error) {
	var (
		idx Index
		err error
	)
	switch cfg.Backend {
	case "memory", "":
		idx, err = NewMemoryIndex(cfg.Dimensions, cfg.SnapshotPath)
	case "qdrant":
		idx, err = NewQdrantIndex(QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.Collection,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("%w: unknown index backend %q (supported: memory, qdrant)",
			errdefs.ErrConfiguration, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.ResetOnStartup {
		if err := idx.Clear(context.Background()); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("reset on startup: %w", err)
		}
	}
	return idx, nil
}
