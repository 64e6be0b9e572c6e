package classic

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/openkv/mdbkv"
	"github.com/openkv/mdbkv/indexam"
	"github.com/openkv/mdbkv/storage"
)

// AccessMethod is the Bolt-backed index access method. Each entry is a
// composite bucket key: the encoded index key followed by the 8-byte
// big-endian locator, so bytewise bucket order is (key, locator) order.
// All keys of one index encode the same field count, so no encoded key
// is a proper prefix of another and prefix scans identify one key's
// entry range exactly.
type AccessMethod struct {
	entry  storage.CatalogEntry
	bucket []byte
	ord    mdbkv.Ordering

	// NewSorter builds the external sorter for bulk builds.
	NewSorter func() storage.Sorter
}

var _ storage.AccessMethod = (*AccessMethod)(nil)

// OpenIndex opens (creating if missing) the index's bucket.
func OpenIndex(tx *bbolt.Tx, entry storage.CatalogEntry) (*AccessMethod, error) {
	d := entry.Descriptor()
	_, err := tx.CreateBucketIfNotExists([]byte(d.NS))
	if err != nil {
		return nil, fmt.Errorf("classic %s: %w", d.NS, err)
	}
	return &AccessMethod{
		entry:     entry,
		bucket:    []byte(d.NS),
		ord:       d.Ordering(),
		NewSorter: func() storage.Sorter { return storage.NewMemSorter() },
	}, nil
}

func (am *AccessMethod) Entry() storage.CatalogEntry { return am.entry }

// EncodeKey encodes index key field values into the stored form.
func (am *AccessMethod) EncodeKey(values ...any) ([]byte, error) {
	return mdbkv.AppendIndexKey(nil, am.ord, values)
}

func entryKey(key []byte, loc mdbkv.DiskLoc) []byte {
	ek := make([]byte, len(key)+8)
	copy(ek, key)
	binary.BigEndian.PutUint64(ek[len(key):], uint64(loc))
	return ek
}

func splitEntry(ek []byte) ([]byte, mdbkv.DiskLoc) {
	n := len(ek) - 8
	return ek[:n], mdbkv.DiskLoc(binary.BigEndian.Uint64(ek[n:]))
}

func (am *AccessMethod) b(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	b := tx.Bucket(am.bucket)
	if b == nil {
		return nil, fmt.Errorf("classic %s: bucket missing", am.entry.Descriptor().NS)
	}
	return b, nil
}

// keyExists reports whether any entry stores the given index key.
func keyExists(b *bbolt.Bucket, key []byte) bool {
	k, _ := b.Cursor().Seek(key)
	return k != nil && bytes.HasPrefix(k, key)
}

func pairExists(b *bbolt.Bucket, key []byte, loc mdbkv.DiskLoc) bool {
	return b.Get(entryKey(key, loc)) != nil
}

func (am *AccessMethod) dupKeyError(key []byte) error {
	return &indexam.DuplicateKeyError{NS: am.entry.Descriptor().NS, Key: mdbkv.FormatIndexKey(am.ord, key)}
}

func (am *AccessMethod) Insert(stx storage.Tx, doc mdbkv.Document, loc mdbkv.DiskLoc, opts storage.InsertDeleteOptions) (int, error) {
	d := am.entry.Descriptor()
	keys, err := storage.GetKeys(d, doc)
	if err != nil {
		return 0, err
	}
	b, err := am.b(stx.Bolt)
	if err != nil {
		return 0, err
	}

	numInserted := 0
	for _, key := range keys {
		collision := pairExists(b, key, loc) || (!opts.DupsAllowed && keyExists(b, key))
		if collision {
			if !am.entry.IsReady() {
				am.entry.Logf("info: key already in index during bg indexing (ok)")
				continue
			}
			if opts.DupsAllowed {
				return numInserted, fmt.Errorf("classic %s: overwriting a dup", d.NS)
			}
			for _, keyToDel := range keys {
				if !pairExists(b, keyToDel, loc) {
					break
				}
				if err := b.Delete(entryKey(keyToDel, loc)); err != nil {
					return numInserted, fmt.Errorf("classic %s: %w", d.NS, err)
				}
			}
			return 0, am.dupKeyError(key)
		}
		if err := b.Put(entryKey(key, loc), mdbkv.LocData(loc)); err != nil {
			return numInserted, fmt.Errorf("classic %s: %w", d.NS, err)
		}
		numInserted++
	}

	if numInserted > 1 {
		am.entry.SetMultikey()
	}
	return numInserted, nil
}

func (am *AccessMethod) Remove(stx storage.Tx, doc mdbkv.Document, loc mdbkv.DiskLoc, opts storage.InsertDeleteOptions) (int, error) {
	d := am.entry.Descriptor()
	keys, err := storage.GetKeys(d, doc)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	b, err := am.b(stx.Bolt)
	if err != nil {
		return 0, err
	}

	numDeleted := 0
	for _, key := range keys {
		if pairExists(b, key, loc) {
			if err := b.Delete(entryKey(key, loc)); err != nil {
				return numDeleted, fmt.Errorf("classic %s: %w", d.NS, err)
			}
			numDeleted++
		} else if opts.LogIfError {
			am.entry.Logf("unindex failed (key too big?) %s key: %s loc: %v",
				d.NS, mdbkv.FormatIndexKey(am.ord, key), loc)
		}
	}
	return numDeleted, nil
}

type updateData struct {
	oldKeys     [][]byte
	added       [][]byte
	removed     [][]byte
	loc         mdbkv.DiskLoc
	dupsAllowed bool
}

func (am *AccessMethod) ValidateUpdate(stx storage.Tx, from, to mdbkv.Document, loc mdbkv.DiskLoc, opts storage.InsertDeleteOptions) (*storage.UpdateTicket, error) {
	d := am.entry.Descriptor()
	data := &updateData{loc: loc, dupsAllowed: opts.DupsAllowed}

	oldKeys, err := storage.GetKeys(d, from)
	if err != nil {
		return nil, err
	}
	newKeys, err := storage.GetKeys(d, to)
	if err != nil {
		return nil, err
	}
	data.oldKeys = oldKeys
	data.removed = storage.KeySetDifference(oldKeys, newKeys)
	data.added = storage.KeySetDifference(newKeys, oldKeys)

	ticket := &storage.UpdateTicket{Data: data}

	if len(data.added) > 0 && d.Unique && !opts.DupsAllowed {
		b, err := am.b(stx.Bolt)
		if err != nil {
			return ticket, err
		}
		for _, key := range data.added {
			if keyExists(b, key) {
				return ticket, am.dupKeyError(key)
			}
		}
	}

	ticket.Valid = true
	return ticket, nil
}

func (am *AccessMethod) Update(stx storage.Tx, ticket *storage.UpdateTicket) (int, error) {
	d := am.entry.Descriptor()
	if !ticket.Valid {
		return 0, fmt.Errorf("classic %s: invalid update ticket", d.NS)
	}
	data, ok := ticket.Data.(*updateData)
	if !ok {
		return 0, fmt.Errorf("classic %s: foreign update ticket", d.NS)
	}

	if len(data.oldKeys)+len(data.added)-len(data.removed) > 1 {
		am.entry.SetMultikey()
	}

	b, err := am.b(stx.Bolt)
	if err != nil {
		return 0, err
	}
	for _, key := range data.added {
		if !data.dupsAllowed && (pairExists(b, key, data.loc) || (d.Unique && keyExists(b, key))) {
			return 0, am.dupKeyError(key)
		}
		if err := b.Put(entryKey(key, data.loc), mdbkv.LocData(data.loc)); err != nil {
			return 0, fmt.Errorf("classic %s: %w", d.NS, err)
		}
	}
	for _, key := range data.removed {
		if !pairExists(b, key, data.loc) {
			return 0, fmt.Errorf("classic %s: updated entry vanished", d.NS)
		}
		if err := b.Delete(entryKey(key, data.loc)); err != nil {
			return 0, fmt.Errorf("classic %s: %w", d.NS, err)
		}
	}
	return len(data.added), nil
}

func (am *AccessMethod) FindSingle(stx storage.Tx, key []byte) (mdbkv.DiskLoc, bool, error) {
	b, err := am.b(stx.Bolt)
	if err != nil {
		return mdbkv.NullLoc, false, err
	}
	k, _ := b.Cursor().Seek(key)
	if k == nil || !bytes.HasPrefix(k, key) {
		return mdbkv.NullLoc, false, nil
	}
	_, loc := splitEntry(k)
	return loc, true, nil
}

func (am *AccessMethod) Touch(stx storage.Tx, doc mdbkv.Document) error {
	keys, err := storage.GetKeys(am.entry.Descriptor(), doc)
	if err != nil {
		return err
	}
	b, err := am.b(stx.Bolt)
	if err != nil {
		return err
	}
	cur := b.Cursor()
	for _, key := range keys {
		cur.Seek(key)
	}
	return nil
}

func (am *AccessMethod) Validate(stx storage.Tx) (int64, error) {
	b, err := am.b(stx.Bolt)
	if err != nil {
		return 0, err
	}
	var n int64
	cur := b.Cursor()
	for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
		n++
	}
	return n, nil
}

// Bulk accumulates bulk-build pairs for the classic path.
type Bulk struct {
	am     *AccessMethod
	sorter storage.Sorter
	multi  bool
}

var _ storage.BulkBuilder = (*Bulk)(nil)

func (am *AccessMethod) InitiateBulk(stx storage.Tx) (storage.BulkBuilder, error) {
	b, err := am.b(stx.Bolt)
	if err != nil {
		return nil, err
	}
	if b.Stats().KeyN > 0 {
		return nil, fmt.Errorf("classic %s: bulk build requires an empty index: %w",
			am.entry.Descriptor().NS, mdbkv.ErrIllegalOperation)
	}
	return &Bulk{am: am, sorter: am.NewSorter()}, nil
}

func (b *Bulk) Insert(doc mdbkv.Document, loc mdbkv.DiskLoc) (int, error) {
	keys, err := storage.GetKeys(b.am.entry.Descriptor(), doc)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := b.sorter.Add(key, loc); err != nil {
			return 0, err
		}
	}
	if len(keys) > 1 {
		b.multi = true
	}
	return len(keys), nil
}

func (am *AccessMethod) CommitBulk(ctx context.Context, stx storage.Tx, bulk storage.BulkBuilder, opts storage.CommitBulkOptions) error {
	d := am.entry.Descriptor()
	bb, ok := bulk.(*Bulk)
	if !ok || bb.am != am {
		return fmt.Errorf("classic %s: bulk builder belongs to a different index", d.NS)
	}
	b, err := am.b(stx.Bolt)
	if err != nil {
		return err
	}
	if b.Stats().KeyN > 0 {
		return fmt.Errorf("classic %s: trying to commit, but has data already", d.NS)
	}

	dupsAllowed := !d.Unique
	dropDups := d.DropDups
	if dropDups && opts.DupsToDrop == nil {
		return fmt.Errorf("classic %s: dropDups build without a dups set", d.NS)
	}

	if bb.multi {
		am.entry.SetMultikey()
	}

	if err := bb.sorter.Sort(); err != nil {
		return err
	}

	it := bb.sorter.Iter()
	var lastKey []byte
	first := true
	var done int64
	for {
		key, loc, ok := it.Next()
		if !ok {
			break
		}
		if done%128 == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("index bulk build interrupted: %w", err)
			}
		}

		matchesLast := !first && bytes.Equal(key, lastKey)
		first = false
		lastKey = append(lastKey[:0], key...)

		if matchesLast && !dupsAllowed {
			if dropDups {
				if err := opts.DupsToDrop.Add(loc); err != nil {
					return err
				}
				continue
			}
			return am.dupKeyError(key)
		}

		if err := b.Put(entryKey(key, loc), mdbkv.LocData(loc)); err != nil {
			return fmt.Errorf("classic %s: %w", d.NS, err)
		}
		done++
		if opts.Progress != nil && done%128 == 0 {
			opts.Progress(done)
		}
	}
	if opts.Progress != nil {
		opts.Progress(done)
	}
	return nil
}
