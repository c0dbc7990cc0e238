// Package casstore implements the CID store: a content-addressed blob
// table with batch put/get, missing-CID lookup, and aggregate stats.
package casstore

import (
	"fmt"
	"sort"

	"github.com/curtcox/cideldill/internal/codec"
)

// Stats summarizes the store's contents.
type Stats struct {
	Count          int   `json:"count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// MismatchError is returned by PutMany when one or more entries fail
// compute_cid(bytes) == cid verification. The whole batch is rejected;
// none of its entries are committed.
type MismatchError struct {
	CIDs []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("casstore: cid mismatch for %d entr(ies): %v", len(e.CIDs), e.CIDs)
}

// Store is the CID store contract. Both SQLiteStore and MemoryStore
// implement it.
type Store interface {
	// PutMany verifies codec.ComputeCID(bytes) == cid for every entry
	// before writing any of them; a failure rejects the whole batch with
	// a *MismatchError naming every offending cid. Writes are idempotent.
	PutMany(blobs map[string][]byte) error

	// GetMany returns the bytes for every cid present in the store.
	// CIDs with no matching blob are simply absent from the result.
	GetMany(cids []string) (map[string][]byte, error)

	// Missing returns the subset of cids not present in the store, in
	// the same order they were given.
	Missing(cids []string) ([]string, error)

	Stats() (Stats, error)

	Close() error
}

func verifyBatch(blobs map[string][]byte) error {
	var bad []string
	for cid, data := range blobs {
		if !codec.Verify(data, cid) {
			bad = append(bad, cid)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return &MismatchError{CIDs: bad}
	}
	return nil
}
