// Package recstore implements KV-backed primary document storage: one
// database per collection, keyed by a monotonically assigned 32-bit
// record id, with reserve-then-fill insertion and capped-collection
// eviction.
package recstore

import (
	"fmt"
	"math"
	"strings"

	"github.com/openkv/mdbkv"
	"github.com/openkv/mdbkv/storage"
)

// Store is the record store for one collection. The 32-bit key is
// monotonic by construction, so physical order matches insertion order
// and the oldest record is always the first key. Append-only puts stay
// on the engine's fast path and avoid rebalancing.
type Store struct {
	db      mdbkv.DB
	details storage.Details
	ns      string
	colNum  uint32
	nextID  uint32
}

var _ storage.RecordStore = (*Store)(nil)

// Open opens (creating if missing) the collection's database. For
// normal namespaces the next record id resumes after the last stored
// key.
func Open(tx *mdbkv.Tx, ns string, colNum uint32, details storage.Details) (*Store, error) {
	db, err := mdbkv.OpenDB(tx, ns, mdbkv.Create|mdbkv.IntegerKey)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, details: details, ns: ns, colNum: colNum}
	if normalNS(ns) {
		cur, err := mdbkv.OpenCursor(tx, db)
		if err != nil {
			return nil, err
		}
		defer cur.Close()
		kv, err := cur.Last()
		if err != nil {
			return nil, err
		}
		if kv != nil {
			s.nextID = kv.Key.Uint32() + 1
		}
	}
	return s, nil
}

// normalNS reports whether ns is a plain collection namespace rather
// than a virtual one like "db.coll.$idx".
func normalNS(ns string) bool {
	return !strings.Contains(ns, "$")
}

func (s *Store) NS() string { return s.ns }

func (s *Store) DB() mdbkv.DB { return s.db }

// RecordFor returns a view of the record bytes at loc. The locator must
// belong to this collection and reference a live record.
func (s *Store) RecordFor(stx storage.Tx, loc mdbkv.DiskLoc) (mdbkv.Data, error) {
	if loc.Collection() != s.colNum {
		return nil, fmt.Errorf("recstore %s: locator %v belongs to collection %d, not %d",
			s.ns, loc, loc.Collection(), s.colNum)
	}
	data, found, err := s.db.Get(stx.KV, mdbkv.Uint32Data(loc.ID()))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("recstore %s: no record at %v", s.ns, loc)
	}
	return data, nil
}

func (s *Store) takeID() (uint32, error) {
	id := s.nextID
	if id > math.MaxInt32 {
		return 0, fmt.Errorf("recstore %s: record id space exhausted", s.ns)
	}
	s.nextID++
	return id, nil
}

// InsertRecordWriter reserves space for the writer's document and lets
// it fill the region in place, skipping one copy.
func (s *Store) InsertRecordWriter(stx storage.Tx, w storage.DocWriter) (mdbkv.DiskLoc, error) {
	tx := stx.KV
	id, err := s.takeID()
	if err != nil {
		return mdbkv.NullLoc, err
	}
	size := w.DocumentSize()
	buf, err := s.db.PutReserve(tx, mdbkv.Uint32Data(id), size, mdbkv.Append)
	if err != nil {
		return mdbkv.NullLoc, err
	}
	if len(buf) != size {
		return mdbkv.NullLoc, fmt.Errorf("recstore %s: reserved %d bytes, wanted %d", s.ns, len(buf), size)
	}
	w.WriteDocument(buf)

	s.details.IncrementStats(int64(size), 1)
	if err := s.cappedPostInsert(tx); err != nil {
		return mdbkv.NullLoc, err
	}
	return mdbkv.MakeLoc(s.colNum, id), nil
}

// InsertRecord stores already-serialized record bytes.
func (s *Store) InsertRecord(stx storage.Tx, data []byte) (mdbkv.DiskLoc, error) {
	tx := stx.KV
	id, err := s.takeID()
	if err != nil {
		return mdbkv.NullLoc, err
	}
	if err := s.db.Put(tx, mdbkv.Uint32Data(id), data, mdbkv.Append); err != nil {
		return mdbkv.NullLoc, err
	}

	s.details.IncrementStats(int64(len(data)), 1)
	if err := s.cappedPostInsert(tx); err != nil {
		return mdbkv.NullLoc, err
	}
	return mdbkv.MakeLoc(s.colNum, id), nil
}

// cappedPostInsert evicts oldest records until the collection is back
// under its caps. The cursor must find a record on every iteration;
// running dry means the caller is evicting the record it just wrote,
// which upstream insert sizing is supposed to prevent.
func (s *Store) cappedPostInsert(tx *mdbkv.Tx) error {
	if !s.details.IsCapped() {
		return nil
	}
	if s.details.DataSize() <= s.details.MaxSize() && s.details.NumRecords() <= s.details.MaxDocs() {
		return nil // don't init the cursor
	}

	cur, err := mdbkv.OpenCursor(tx, s.db)
	if err != nil {
		return err
	}
	defer cur.Close()

	for s.details.DataSize() > s.details.MaxSize() || s.details.NumRecords() > s.details.MaxDocs() {
		kv, err := cur.Next()
		if err != nil {
			return err
		}
		if kv == nil {
			return fmt.Errorf("recstore %s: capped eviction would delete the record just inserted", s.ns)
		}
		s.details.IncrementStats(-int64(len(kv.Val)), -1)
		if err := cur.DeleteCurrent(); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRecord removes the record at loc.
func (s *Store) DeleteRecord(stx storage.Tx, loc mdbkv.DiskLoc) error {
	tx := stx.KV
	if loc.Collection() != s.colNum {
		return fmt.Errorf("recstore %s: locator %v belongs to collection %d, not %d",
			s.ns, loc, loc.Collection(), s.colNum)
	}

	cur, err := mdbkv.OpenCursor(tx, s.db)
	if err != nil {
		return err
	}
	defer cur.Close()

	kv, err := cur.SeekKey(mdbkv.Uint32Data(loc.ID()))
	if err != nil {
		return err
	}
	if kv == nil {
		return fmt.Errorf("recstore %s: no record at %v", s.ns, loc)
	}
	size := int64(len(kv.Val))
	if err := cur.DeleteCurrent(); err != nil {
		return err
	}
	s.details.IncrementStats(-size, -1)
	return nil
}

// Truncate removes every record, keeping the database and the next-id
// counter.
func (s *Store) Truncate(stx storage.Tx) error {
	return s.db.Empty(stx.KV)
}
