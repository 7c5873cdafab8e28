// Package fileid provides a deterministic document ID from a file path.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "file:"

// FileDocID returns a stable document ID for the given absolute path.
// Same path always yields the same ID, so re-ingesting a changed file
// replaces the prior document rather than adding a new one.
func FileDocID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:16])
}
