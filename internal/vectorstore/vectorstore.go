// Package vectorstore is the vector adapter (§4.1 bullet 4, §6 vector
// record contract): insert, fetch, and k-NN search over
// (vector_id, embedding, content, metadata) tuples with declarative
// filters, plus the deterministic URI→vector-id mapping.
package vectorstore

import (
	"context"

	"cortexmem/internal/cortextypes"
)

// Record is the vector-adapter unit (§3 Memory record, §6 vector record
// contract).
type Record struct {
	ID        string
	Embedding []float32
	Content   string
	Metadata  cortextypes.MemoryMetadata
}

// SearchResult pairs a Record's id/content/metadata with a similarity
// score.
type SearchResult struct {
	ID       string
	Score    float64
	Content  string
	Metadata cortextypes.MemoryMetadata
}

// Store is the capability handle every subsystem that reads or writes
// vectors depends on.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (*Record, bool, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]SearchResult, error)
	Dimension() int
	Close() error
}

// VID computes the deterministic vector id for (uri, layer) per §3's
// "Vector id" entity and §4.4's directory-vs-file derivation rule: L0/L1
// ids are derived from the containing directory URI, L2 ids from the
// file URI itself. Callers are expected to pass the already-resolved
// directory or file URI string; VID itself is a pure string function.
func VID(uri string, layer cortextypes.Layer) string {
	return uri + "#" + string(layer)
}
