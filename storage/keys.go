package storage

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/openkv/mdbkv"
)

// GetKeys extracts the index key set for doc under the descriptor's key
// pattern, encoded in the index's order-preserving form. A missing
// field contributes a null component. A slice-valued field expands to
// one key per element (the multikey case); at most one field of the
// pattern may hold a slice. The result is a set: sorted in index order
// and deduplicated.
func GetKeys(d *Descriptor, doc mdbkv.Document) ([][]byte, error) {
	ord := d.Ordering()
	n := len(d.Pattern)

	values := make([]any, n)
	arrayField := -1
	var arrayElems []any
	for i, f := range d.Pattern {
		v, ok := doc.Field(f.Name)
		if !ok {
			values[i] = nil
			continue
		}
		if elems, isArray := v.([]any); isArray {
			if arrayField >= 0 {
				return nil, fmt.Errorf("index %s: cannot index parallel arrays (%s, %s)",
					d.NS, d.Pattern[arrayField].Name, f.Name)
			}
			arrayField = i
			arrayElems = elems
			continue
		}
		values[i] = v
	}

	if arrayField < 0 {
		key, err := mdbkv.AppendIndexKey(nil, ord, values)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", d.NS, err)
		}
		return [][]byte{key}, nil
	}

	if len(arrayElems) == 0 {
		// An empty array indexes as a single null, like a missing field.
		values[arrayField] = nil
		key, err := mdbkv.AppendIndexKey(nil, ord, values)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", d.NS, err)
		}
		return [][]byte{key}, nil
	}

	keys := make([][]byte, 0, len(arrayElems))
	for _, elem := range arrayElems {
		values[arrayField] = elem
		key, err := mdbkv.AppendIndexKey(nil, ord, values)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", d.NS, err)
		}
		keys = append(keys, key)
	}
	return sortKeySet(keys), nil
}

// sortKeySet sorts encoded keys bytewise, which is the index comparator
// order by construction, and drops duplicates.
func sortKeySet(keys [][]byte) [][]byte {
	slices.SortFunc(keys, bytes.Compare)
	return slices.CompactFunc(keys, bytes.Equal)
}

// KeySetDifference returns the keys of l that are not in r. Both inputs
// must be sorted key sets under the same ordering spec. The outer slice
// is newly allocated, but its elements alias l's key buffers, which
// callers must treat as immutable.
func KeySetDifference(l, r [][]byte) [][]byte {
	var diff [][]byte
	j := 0
	for _, lk := range l {
		for j < len(r) && bytes.Compare(r[j], lk) < 0 {
			j++
		}
		if j >= len(r) || !bytes.Equal(lk, r[j]) {
			diff = append(diff, lk)
		}
	}
	return diff
}
