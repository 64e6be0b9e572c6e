// Package storage declares the contracts between the catalog and the
// storage backends: index descriptors, collection details, the record
// store and index access method interfaces, and the per-collection
// backend selection. The catalog itself lives outside this module; it
// owns the entries and details handed to the constructors here.
package storage

import (
	"github.com/openkv/mdbkv"
)

// Field is one component of an index key pattern.
type Field struct {
	Name       string
	Descending bool
}

// Descriptor describes one index: its identity, key pattern and
// uniqueness rules. Descriptors are immutable after creation and
// outlive every transaction that touches the index.
type Descriptor struct {
	// Name is the index name, e.g. "email_1".
	Name string
	// NS is the full index namespace, e.g. "test.users.$email_1".
	NS string
	Pattern []Field
	Unique  bool
	// DropDups makes a bulk build of a unique index discard documents
	// with duplicate keys instead of failing.
	DropDups bool
	Version  int
}

// Ordering returns the per-field direction spec used by the index key
// encoding.
func (d *Descriptor) Ordering() mdbkv.Ordering {
	ord := make(mdbkv.Ordering, len(d.Pattern))
	for i, f := range d.Pattern {
		ord[i] = f.Descending
	}
	return ord
}

// CatalogEntry is the catalog's live state for one index.
type CatalogEntry interface {
	Descriptor() *Descriptor

	// IsReady reports whether the index build has finished. While a
	// background build is in progress, duplicate-key errors on insert
	// are swallowed.
	IsReady() bool

	IsMultikey() bool
	// SetMultikey records that some document contributed more than one
	// key. Never unset.
	SetMultikey()

	// Logf receives unindex warnings and similar diagnostics.
	Logf(format string, args ...any)
}

// Details is the catalog's live state for one collection: size stats
// and the capped-collection configuration. The record store mutates the
// stats through IncrementStats but the catalog owns them.
type Details interface {
	IsCapped() bool
	MaxSize() int64
	MaxDocs() int64

	DataSize() int64
	NumRecords() int64
	IncrementStats(dataSizeDelta, numRecordsDelta int64)
}

// DocWriter writes a document of a known size directly into a reserved
// value region.
type DocWriter interface {
	DocumentSize() int
	WriteDocument(buf []byte)
}
