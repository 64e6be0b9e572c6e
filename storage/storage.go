package storage

import (
	"context"
	"errors"

	"go.etcd.io/bbolt"

	"github.com/openkv/mdbkv"
)

// Backend selects the storage path for one collection or index. The
// catalog persists a backend flag per entry; both paths implement the
// same contracts below.
type Backend uint8

const (
	// KVBackend stores data in the memory-mapped KV engine.
	KVBackend Backend = iota
	// ClassicBackend stores data in the legacy Bolt-backed path.
	ClassicBackend
)

func (b Backend) String() string {
	switch b {
	case KVBackend:
		return "kv"
	case ClassicBackend:
		return "classic"
	default:
		return "unknown"
	}
}

// Engine bundles the storage handles a catalog owns. Either handle may
// be nil when no collection uses that path.
type Engine struct {
	KV   *mdbkv.Env
	Bolt *bbolt.DB
}

// Tx carries one transaction per open storage handle. A backend
// implementation uses its half and ignores the other. The two halves
// commit independently; a collection lives entirely in one backend, so
// no single logical operation spans both.
type Tx struct {
	KV   *mdbkv.Tx
	Bolt *bbolt.Tx
}

// View runs fn with read transactions on every open handle.
func (e *Engine) View(fn func(tx Tx) error) error {
	if e.KV != nil {
		return e.KV.View(func(ktx *mdbkv.Tx) error {
			if e.Bolt != nil {
				return e.Bolt.View(func(btx *bbolt.Tx) error {
					return fn(Tx{KV: ktx, Bolt: btx})
				})
			}
			return fn(Tx{KV: ktx})
		})
	}
	if e.Bolt != nil {
		return e.Bolt.View(func(btx *bbolt.Tx) error {
			return fn(Tx{Bolt: btx})
		})
	}
	return errors.New("storage: engine has no open handles")
}

// Update runs fn with write transactions on every open handle. The KV
// transaction commits after the Bolt transaction.
func (e *Engine) Update(fn func(tx Tx) error) error {
	if e.KV != nil {
		return e.KV.Update(func(ktx *mdbkv.Tx) error {
			if e.Bolt != nil {
				return e.Bolt.Update(func(btx *bbolt.Tx) error {
					return fn(Tx{KV: ktx, Bolt: btx})
				})
			}
			return fn(Tx{KV: ktx})
		})
	}
	if e.Bolt != nil {
		return e.Bolt.Update(func(btx *bbolt.Tx) error {
			return fn(Tx{Bolt: btx})
		})
	}
	return errors.New("storage: engine has no open handles")
}

// RecordStore is primary document storage for one collection.
type RecordStore interface {
	NS() string

	// RecordFor returns a view of the record bytes at loc.
	RecordFor(tx Tx, loc mdbkv.DiskLoc) (mdbkv.Data, error)

	// InsertRecord stores a new record and returns its locator.
	InsertRecord(tx Tx, data []byte) (mdbkv.DiskLoc, error)

	// InsertRecordWriter reserves space for the writer's document and
	// lets it fill the region in place.
	InsertRecordWriter(tx Tx, w DocWriter) (mdbkv.DiskLoc, error)

	DeleteRecord(tx Tx, loc mdbkv.DiskLoc) error

	Truncate(tx Tx) error
}

// InsertDeleteOptions modify index insert and remove behavior.
type InsertDeleteOptions struct {
	// DupsAllowed turns off the duplicate-key rejection (used during
	// replication and repair). A classic unique index then stores the
	// extra locator beside the existing one; a KV unique index holds one
	// locator per key, so the insert replaces the stored locator.
	DupsAllowed bool
	// LogIfError logs keys whose unindex did not find an entry.
	LogIfError bool
}

// UpdateTicket carries the precomputed key changes between
// ValidateUpdate and Update. Data is backend-private.
type UpdateTicket struct {
	Valid bool
	Data  any
}

// CursorDirection orders index cursor traversal.
type CursorDirection int8

const (
	Forward CursorDirection = 1
	Reverse CursorDirection = -1
)

// IndexCursor walks one index in a fixed direction. It matches the
// legacy B-tree cursor contract, including the save/restore protocol
// that releases cursor resources and later repositions, tolerating
// concurrent modifications under the same write transaction.
type IndexCursor interface {
	IsEOF() bool

	// Seek positions at the smallest stored key >= key: at its first
	// entry, or for a reverse cursor at its last entry (reverse: the last
	// entry of the index when no key is >= key). With afterKey, skips all
	// entries whose key equals key.
	Seek(key []byte, afterKey bool) error

	Next() error

	// Key returns a view of the current encoded index key.
	Key() []byte
	// Value returns the current record locator.
	Value() mdbkv.DiskLoc

	// SavePosition materializes the current key and locator and drops
	// the underlying cursor. Fails at EOF.
	SavePosition() error
	// RestorePosition reopens a cursor under tx and repositions at the
	// saved pair, or at its closest surviving neighbor in cursor
	// direction if the pair was deleted.
	RestorePosition(tx Tx) error

	// PointsAt reports whether both cursors reference the same
	// key-locator pair.
	PointsAt(other IndexCursor) bool

	Close()
}

// BulkBuilder accumulates keys for a bulk index build; the access
// method's CommitBulk streams them into the index.
type BulkBuilder interface {
	// Insert extracts doc's keys into the builder's sorter and returns
	// the key count.
	Insert(doc mdbkv.Document, loc mdbkv.DiskLoc) (int, error)
}

// CommitBulkOptions modify CommitBulk.
type CommitBulkOptions struct {
	// DupsToDrop collects the locators of dropped duplicate documents
	// when the descriptor has DropDups set. Required in that case.
	DupsToDrop *DupSet
	// Progress, when set, is called periodically with the number of
	// keys streamed so far.
	Progress func(done int64)
}

// AccessMethod maintains one secondary index over a collection.
type AccessMethod interface {
	Insert(tx Tx, doc mdbkv.Document, loc mdbkv.DiskLoc, opts InsertDeleteOptions) (numInserted int, err error)

	Remove(tx Tx, doc mdbkv.Document, loc mdbkv.DiskLoc, opts InsertDeleteOptions) (numDeleted int, err error)

	// ValidateUpdate computes the key changes for rewriting doc at loc
	// and pre-checks unique constraints. The ticket is invalid if a new
	// key would collide.
	ValidateUpdate(tx Tx, from, to mdbkv.Document, loc mdbkv.DiskLoc, opts InsertDeleteOptions) (*UpdateTicket, error)

	// Update applies a valid ticket: inserts added keys, then deletes
	// removed ones.
	Update(tx Tx, ticket *UpdateTicket) (numUpdated int, err error)

	NewCursor(tx Tx, dir CursorDirection) (IndexCursor, error)

	// FindSingle returns the locator stored under the exact encoded key.
	FindSingle(tx Tx, key []byte) (mdbkv.DiskLoc, bool, error)

	// Touch warms the index pages holding doc's keys.
	Touch(tx Tx, doc mdbkv.Document) error

	// Validate walks all entries and returns the count.
	Validate(tx Tx) (int64, error)

	// InitiateBulk returns a bulk builder; only permitted while the
	// index is empty.
	InitiateBulk(tx Tx) (BulkBuilder, error)

	// CommitBulk sorts and streams the builder's pairs into the index.
	// It polls ctx between items and aborts cleanly when ctx is done.
	CommitBulk(ctx context.Context, tx Tx, bulk BulkBuilder, opts CommitBulkOptions) error
}

// Sorter is the external sorter collaborator used by bulk builds.
type Sorter interface {
	Add(key []byte, loc mdbkv.DiskLoc) error
	Sort() error
	Iter() SorterIterator
}

type SorterIterator interface {
	Next() (key []byte, loc mdbkv.DiskLoc, ok bool)
}

// ErrTooManyDuplicates reports that a dropDups build exceeded the
// in-memory duplicate set cap.
var ErrTooManyDuplicates = errors.New("too many dups on index build with dropDups=true")

// DupSetLimit caps how many dropped-duplicate locators a bulk build
// keeps in memory.
const DupSetLimit = 1000000

// DupSet is a bounded set of record locators.
type DupSet struct {
	limit int
	locs  map[mdbkv.DiskLoc]struct{}
}

func NewDupSet() *DupSet {
	return NewDupSetWithLimit(DupSetLimit)
}

// NewDupSetWithLimit makes a set with a custom cap; repair tooling and
// tests use smaller bounds.
func NewDupSetWithLimit(limit int) *DupSet {
	return &DupSet{limit: limit, locs: make(map[mdbkv.DiskLoc]struct{})}
}

func (s *DupSet) Add(loc mdbkv.DiskLoc) error {
	s.locs[loc] = struct{}{}
	if len(s.locs) >= s.limit {
		return ErrTooManyDuplicates
	}
	return nil
}

func (s *DupSet) Has(loc mdbkv.DiskLoc) bool {
	_, ok := s.locs[loc]
	return ok
}

func (s *DupSet) Len() int {
	return len(s.locs)
}
