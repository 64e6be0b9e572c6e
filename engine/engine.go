// Package engine wires the catalog's backend selection to the concrete
// storage implementations: the KV path (recstore, indexam) and the
// legacy Bolt path (classic). The catalog persists a backend flag per
// collection and per index and calls these constructors with it.
package engine

import (
	"fmt"

	"github.com/openkv/mdbkv/classic"
	"github.com/openkv/mdbkv/indexam"
	"github.com/openkv/mdbkv/recstore"
	"github.com/openkv/mdbkv/storage"
)

// OpenRecordStore opens the record store for one collection on the
// selected backend. The transaction must be writable: opening may
// create the underlying database or bucket.
func OpenRecordStore(tx storage.Tx, backend storage.Backend, ns string, colNum uint32, details storage.Details) (storage.RecordStore, error) {
	switch backend {
	case storage.KVBackend:
		return recstore.Open(tx.KV, ns, colNum, details)
	case storage.ClassicBackend:
		return classic.OpenRecordStore(tx.Bolt, ns, colNum, details)
	default:
		return nil, fmt.Errorf("engine: unknown backend %v for %s", backend, ns)
	}
}

// OpenIndex opens the access method for one index on the selected
// backend.
func OpenIndex(tx storage.Tx, backend storage.Backend, entry storage.CatalogEntry) (storage.AccessMethod, error) {
	switch backend {
	case storage.KVBackend:
		return indexam.Open(tx.KV, entry)
	case storage.ClassicBackend:
		return classic.OpenIndex(tx.Bolt, entry)
	default:
		return nil, fmt.Errorf("engine: unknown backend %v for %s", backend, entry.Descriptor().NS)
	}
}
