package vector

import (
	"fmt"

	"github.com/google/uuid"
)

// pointNamespace is the fixed UUIDv5 namespace for deriving remote point IDs.
// Changing it would orphan every previously written remote point.
var pointNamespace = uuid.MustParse("8f7d3a52-9c41-4b6e-b1d0-5a2e8c946f13")

// ChunkPointID returns the canonical point ID for a chunk: "<document_id>:<chunk_index>".
// It is a pure function of its inputs, so re-ingesting a document upserts the
// same IDs and old content is superseded rather than duplicated.
func ChunkPointID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", documentID, chunkIndex)
}

// RemotePointID derives a UUID from an arbitrary string ID, satisfying
// backends that only accept UUID or integer point IDs. The derivation is
// deterministic: the same input always yields the same UUID.
func RemotePointID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}
