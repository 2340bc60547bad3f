package index

import (
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/user/annodex/internal/kv"
)

// metaStore tracks the last-indexed timestamp per (shape, annotation id)
// in Pebble. It gives the staleness check a single cheap point lookup
// instead of a stored-field fetch from the search index.
//
// Entries are written after the corresponding index upsert succeeds, so a
// crash between the two leaves the record looking stale, never fresh.
type metaStore struct {
	db *pebble.DB
}

func openMeta(path string) (*metaStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open index meta: %w", err)
	}
	return &metaStore{db: db}, nil
}

// Put records when a document was last indexed.
func (m *metaStore) Put(shape Shape, id string, indexedAt time.Time) error {
	val := kv.PutUint64BE(nil, uint64(indexedAt.UTC().UnixNano()))
	// NoSync: losing an entry on crash only re-marks the record stale.
	if err := m.db.Set(kv.IndexMetaKey(string(shape), id), val, pebble.NoSync); err != nil {
		return fmt.Errorf("put index meta %s/%s: %w", shape, id, err)
	}
	return nil
}

// Get returns the last-indexed timestamp for the document, or ok=false
// when the document has never been indexed.
func (m *metaStore) Get(shape Shape, id string) (time.Time, bool, error) {
	val, closer, err := m.db.Get(kv.IndexMetaKey(string(shape), id))
	if err == pebble.ErrNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get index meta %s/%s: %w", shape, id, err)
	}
	defer closer.Close()
	ns := kv.GetUint64BE(val)
	return time.Unix(0, int64(ns)).UTC(), true, nil
}

func (m *metaStore) Close() error {
	return m.db.Close()
}
