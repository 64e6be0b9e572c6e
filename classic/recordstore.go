// Package classic implements the legacy storage path over Bolt. It
// serves the same record store and index access contracts as the
// KV-backed packages; the catalog picks the path per collection or
// index with a backend flag. Index entries are stored as composite
// keys (encoded index key followed by the big-endian locator), the
// "key points at locator" shape of the legacy paged B-tree.
package classic

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/openkv/mdbkv"
	"github.com/openkv/mdbkv/storage"
)

// RecordStore is the Bolt-backed record store for one collection.
// Record keys are big-endian 32-bit ids, so bytewise bucket order is
// insertion order.
type RecordStore struct {
	bucket  []byte
	details storage.Details
	ns      string
	colNum  uint32
	nextID  uint32
}

var _ storage.RecordStore = (*RecordStore)(nil)

// OpenRecordStore opens (creating if missing) the collection's bucket.
func OpenRecordStore(tx *bbolt.Tx, ns string, colNum uint32, details storage.Details) (*RecordStore, error) {
	b, err := tx.CreateBucketIfNotExists([]byte(ns))
	if err != nil {
		return nil, fmt.Errorf("classic %s: %w", ns, err)
	}
	s := &RecordStore{bucket: []byte(ns), details: details, ns: ns, colNum: colNum}
	if !strings.Contains(ns, "$") {
		k, _ := b.Cursor().Last()
		if k != nil {
			s.nextID = recordID(k) + 1
		}
	}
	return s, nil
}

func recordKey(id uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], id)
	return k[:]
}

func recordID(k []byte) uint32 {
	return binary.BigEndian.Uint32(k)
}

func (s *RecordStore) NS() string { return s.ns }

func (s *RecordStore) b(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	b := tx.Bucket(s.bucket)
	if b == nil {
		return nil, fmt.Errorf("classic %s: bucket missing", s.ns)
	}
	return b, nil
}

func (s *RecordStore) RecordFor(stx storage.Tx, loc mdbkv.DiskLoc) (mdbkv.Data, error) {
	if loc.Collection() != s.colNum {
		return nil, fmt.Errorf("classic %s: locator %v belongs to collection %d, not %d",
			s.ns, loc, loc.Collection(), s.colNum)
	}
	b, err := s.b(stx.Bolt)
	if err != nil {
		return nil, err
	}
	v := b.Get(recordKey(loc.ID()))
	if v == nil {
		return nil, fmt.Errorf("classic %s: no record at %v", s.ns, loc)
	}
	return mdbkv.Data(v), nil
}

func (s *RecordStore) takeID() (uint32, error) {
	id := s.nextID
	if id > math.MaxInt32 {
		return 0, fmt.Errorf("classic %s: record id space exhausted", s.ns)
	}
	s.nextID++
	return id, nil
}

func (s *RecordStore) InsertRecord(stx storage.Tx, data []byte) (mdbkv.DiskLoc, error) {
	b, err := s.b(stx.Bolt)
	if err != nil {
		return mdbkv.NullLoc, err
	}
	id, err := s.takeID()
	if err != nil {
		return mdbkv.NullLoc, err
	}
	if err := b.Put(recordKey(id), data); err != nil {
		return mdbkv.NullLoc, fmt.Errorf("classic %s: %w", s.ns, err)
	}
	s.details.IncrementStats(int64(len(data)), 1)
	if err := s.cappedPostInsert(b); err != nil {
		return mdbkv.NullLoc, err
	}
	return mdbkv.MakeLoc(s.colNum, id), nil
}

// InsertRecordWriter has no reserve path in Bolt; the document is
// written to a scratch buffer first.
func (s *RecordStore) InsertRecordWriter(stx storage.Tx, w storage.DocWriter) (mdbkv.DiskLoc, error) {
	buf := make([]byte, w.DocumentSize())
	w.WriteDocument(buf)
	return s.InsertRecord(stx, buf)
}

func (s *RecordStore) cappedPostInsert(b *bbolt.Bucket) error {
	if !s.details.IsCapped() {
		return nil
	}
	if s.details.DataSize() <= s.details.MaxSize() && s.details.NumRecords() <= s.details.MaxDocs() {
		return nil
	}
	cur := b.Cursor()
	for s.details.DataSize() > s.details.MaxSize() || s.details.NumRecords() > s.details.MaxDocs() {
		k, v := cur.First()
		if k == nil {
			return fmt.Errorf("classic %s: capped eviction would delete the record just inserted", s.ns)
		}
		s.details.IncrementStats(-int64(len(v)), -1)
		if err := cur.Delete(); err != nil {
			return fmt.Errorf("classic %s: %w", s.ns, err)
		}
	}
	return nil
}

func (s *RecordStore) DeleteRecord(stx storage.Tx, loc mdbkv.DiskLoc) error {
	if loc.Collection() != s.colNum {
		return fmt.Errorf("classic %s: locator %v belongs to collection %d, not %d",
			s.ns, loc, loc.Collection(), s.colNum)
	}
	b, err := s.b(stx.Bolt)
	if err != nil {
		return err
	}
	key := recordKey(loc.ID())
	v := b.Get(key)
	if v == nil {
		return fmt.Errorf("classic %s: no record at %v", s.ns, loc)
	}
	size := int64(len(v))
	if err := b.Delete(key); err != nil {
		return fmt.Errorf("classic %s: %w", s.ns, err)
	}
	s.details.IncrementStats(-size, -1)
	return nil
}

func (s *RecordStore) Truncate(stx storage.Tx) error {
	tx := stx.Bolt
	if err := tx.DeleteBucket(s.bucket); err != nil && err != bbolt.ErrBucketNotFound {
		return fmt.Errorf("classic %s: %w", s.ns, err)
	}
	_, err := tx.CreateBucket(s.bucket)
	if err != nil {
		return fmt.Errorf("classic %s: %w", s.ns, err)
	}
	return nil
}
