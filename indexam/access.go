// Package indexam implements the KV-backed index access method: it
// maps encoded index keys to record locators through the key-value
// store, with duplicate-key and multikey semantics matching the legacy
// B-tree access method it replaces.
package indexam

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/openkv/mdbkv"
	"github.com/openkv/mdbkv/storage"
)

// DuplicateKeyError reports a uniqueness violation. The message carries
// the index namespace and the offending key.
type DuplicateKeyError struct {
	NS  string
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("E11000 duplicate key error index: %s dup key: %s", e.NS, e.Key)
}

// IsDuplicateKey reports whether err is a duplicate key rejection.
func IsDuplicateKey(err error) bool {
	var dup *DuplicateKeyError
	return errors.As(err, &dup)
}

var errInternal = errors.New("internal error")

// AccessMethod maintains one index in one KV database. For a unique
// index the database holds one locator per key; for a non-unique index
// it is duplicate-enabled with fixed-size integer values, so locators
// under one key are kept in numeric order.
type AccessMethod struct {
	entry   storage.CatalogEntry
	db      mdbkv.DB
	ord     mdbkv.Ordering
	dupSort bool

	// NewSorter builds the external sorter for bulk index builds.
	// Defaults to the in-memory sorter.
	NewSorter func() storage.Sorter
}

var _ storage.AccessMethod = (*AccessMethod)(nil)

// Open opens (creating if missing) the index database for entry and
// returns its access method.
func Open(tx *mdbkv.Tx, entry storage.CatalogEntry) (*AccessMethod, error) {
	d := entry.Descriptor()
	flags := uint(mdbkv.Create)
	if !d.Unique {
		flags |= mdbkv.DupSort | mdbkv.DupFixed | mdbkv.IntegerDup
	}
	db, err := mdbkv.OpenDB(tx, d.NS, flags)
	if err != nil {
		return nil, err
	}
	return New(entry, db), nil
}

// New wraps an already opened index database.
func New(entry storage.CatalogEntry, db mdbkv.DB) *AccessMethod {
	d := entry.Descriptor()
	return &AccessMethod{
		entry:     entry,
		db:        db,
		ord:       d.Ordering(),
		dupSort:   !d.Unique,
		NewSorter: func() storage.Sorter { return storage.NewMemSorter() },
	}
}

func (am *AccessMethod) Entry() storage.CatalogEntry { return am.entry }

func (am *AccessMethod) DB() mdbkv.DB { return am.db }

// EncodeKey encodes index key field values into the stored form.
func (am *AccessMethod) EncodeKey(values ...any) ([]byte, error) {
	return mdbkv.AppendIndexKey(nil, am.ord, values)
}

// putFlags returns the engine flags for one key insert. NoDupData is
// only legal on duplicate-enabled databases; on a unique index the same
// rejection comes from NoOverwrite alone.
func (am *AccessMethod) putFlags(dupsAllowed bool) uint {
	var flags uint
	if am.dupSort {
		flags |= mdbkv.NoDupData
	}
	if !dupsAllowed {
		flags |= mdbkv.NoOverwrite
	}
	return flags
}

// seekPair positions cur at the exact (key, loc) entry.
func (am *AccessMethod) seekPair(cur *mdbkv.Cursor, key []byte, loc mdbkv.DiskLoc) (bool, error) {
	if am.dupSort {
		kv, err := cur.SeekBoth(key, mdbkv.LocData(loc))
		return kv != nil, err
	}
	kv, err := cur.SeekKey(key)
	if err != nil || kv == nil {
		return false, err
	}
	return kv.Val.Loc() == loc, nil
}

func (am *AccessMethod) dupKeyError(key []byte) *DuplicateKeyError {
	return &DuplicateKeyError{NS: am.entry.Descriptor().NS, Key: mdbkv.FormatIndexKey(am.ord, key)}
}

// Insert extracts doc's keys and puts (key, loc) for each. On a
// duplicate key: while the index is still building in the background
// the collision is ignored; otherwise every key already inserted for
// this document is removed again and numInserted comes back as 0.
func (am *AccessMethod) Insert(stx storage.Tx, doc mdbkv.Document, loc mdbkv.DiskLoc, opts storage.InsertDeleteOptions) (int, error) {
	tx := stx.KV
	d := am.entry.Descriptor()
	keys, err := storage.GetKeys(d, doc)
	if err != nil {
		return 0, err
	}

	cur, err := mdbkv.OpenCursor(tx, am.db)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	flags := am.putFlags(opts.DupsAllowed)
	numInserted := 0
	for _, key := range keys {
		err := cur.Put(key, mdbkv.LocData(loc), flags)
		if err == nil {
			numInserted++
			continue
		}
		if !mdbkv.IsKeyExist(err) {
			am.entry.Logf("caught assertion addKeysToIndex %s: %v", d.NS, err)
			return numInserted, fmt.Errorf("%w: adding keys to index %s: %v", errInternal, d.NS, err)
		}
		if !am.entry.IsReady() {
			// Key collisions are ignored during background indexing.
			am.entry.Logf("info: key already in index during bg indexing (ok)")
			continue
		}
		if opts.DupsAllowed {
			return numInserted, fmt.Errorf("%w: overwriting a dup in index %s", errInternal, d.NS)
		}
		// Clean up the keys inserted for this document so far.
		for _, keyToDel := range keys {
			found, err2 := am.seekPair(cur, keyToDel, loc)
			if err2 != nil {
				return numInserted, err2
			}
			if !found {
				break
			}
			if err2 := cur.DeleteCurrent(); err2 != nil {
				return numInserted, err2
			}
		}
		return 0, am.dupKeyError(key)
	}

	if numInserted > 1 {
		am.entry.SetMultikey()
	}
	return numInserted, nil
}

// Remove deletes doc's (key, loc) entries. Missing entries are not an
// error; with LogIfError they are logged.
func (am *AccessMethod) Remove(stx storage.Tx, doc mdbkv.Document, loc mdbkv.DiskLoc, opts storage.InsertDeleteOptions) (int, error) {
	tx := stx.KV
	d := am.entry.Descriptor()
	keys, err := storage.GetKeys(d, doc)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	cur, err := mdbkv.OpenCursor(tx, am.db)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	numDeleted := 0
	for _, key := range keys {
		found, err := am.seekPair(cur, key, loc)
		if err != nil {
			return numDeleted, err
		}
		if found {
			if err := cur.DeleteCurrent(); err != nil {
				return numDeleted, err
			}
			numDeleted++
		} else if opts.LogIfError {
			am.entry.Logf("unindex failed (key too big?) %s key: %s loc: %v",
				d.NS, mdbkv.FormatIndexKey(am.ord, key), loc)
		}
	}
	return numDeleted, nil
}

// updateData is the backend-private half of an UpdateTicket: owned
// added/removed key sets computed before any mutation.
type updateData struct {
	oldKeys     [][]byte
	newKeys     [][]byte
	added       [][]byte
	removed     [][]byte
	loc         mdbkv.DiskLoc
	dupsAllowed bool
}

// ValidateUpdate computes the key changes for rewriting the document at
// loc and, on a unique index, scans the added keys for collisions. On a
// collision the returned ticket is invalid and the error identifies the
// key.
func (am *AccessMethod) ValidateUpdate(stx storage.Tx, from, to mdbkv.Document, loc mdbkv.DiskLoc, opts storage.InsertDeleteOptions) (*storage.UpdateTicket, error) {
	tx := stx.KV
	d := am.entry.Descriptor()

	data := &updateData{loc: loc, dupsAllowed: opts.DupsAllowed}
	var err error
	data.oldKeys, err = storage.GetKeys(d, from)
	if err != nil {
		return nil, err
	}
	data.newKeys, err = storage.GetKeys(d, to)
	if err != nil {
		return nil, err
	}
	data.removed = storage.KeySetDifference(data.oldKeys, data.newKeys)
	data.added = storage.KeySetDifference(data.newKeys, data.oldKeys)

	ticket := &storage.UpdateTicket{Data: data}

	checkForDups := len(data.added) > 0 && d.Unique && !opts.DupsAllowed
	if checkForDups {
		cur, err := mdbkv.OpenCursor(tx, am.db)
		if err != nil {
			return ticket, err
		}
		defer cur.Close()
		for _, key := range data.added {
			found, err := cur.Seek(key)
			if err != nil {
				return ticket, err
			}
			if found {
				return ticket, am.dupKeyError(key)
			}
		}
	}

	ticket.Valid = true
	return ticket, nil
}

// Update applies a valid ticket: inserts the added keys, then deletes
// the removed ones, and refreshes the multikey bit.
func (am *AccessMethod) Update(stx storage.Tx, ticket *storage.UpdateTicket) (int, error) {
	tx := stx.KV
	if !ticket.Valid {
		return 0, fmt.Errorf("%w: invalid update ticket", errInternal)
	}
	data, ok := ticket.Data.(*updateData)
	if !ok {
		return 0, fmt.Errorf("%w: foreign update ticket", errInternal)
	}

	if len(data.oldKeys)+len(data.added)-len(data.removed) > 1 {
		am.entry.SetMultikey()
	}

	cur, err := mdbkv.OpenCursor(tx, am.db)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	flags := am.putFlags(data.dupsAllowed)
	for _, key := range data.added {
		if err := cur.Put(key, mdbkv.LocData(data.loc), flags); err != nil {
			if mdbkv.IsKeyExist(err) {
				return 0, am.dupKeyError(key)
			}
			return 0, err
		}
	}
	for _, key := range data.removed {
		found, err := am.seekPair(cur, key, data.loc)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, fmt.Errorf("%w: updated entry vanished from index %s", errInternal, am.entry.Descriptor().NS)
		}
		if err := cur.DeleteCurrent(); err != nil {
			return 0, err
		}
	}

	return len(data.added), nil
}

// FindSingle returns the locator stored under the exact encoded key,
// the first one in locator order when duplicates exist.
func (am *AccessMethod) FindSingle(stx storage.Tx, key []byte) (mdbkv.DiskLoc, bool, error) {
	cur, err := mdbkv.OpenCursor(stx.KV, am.db)
	if err != nil {
		return mdbkv.NullLoc, false, err
	}
	defer cur.Close()
	kv, err := cur.SeekKey(key)
	if err != nil || kv == nil {
		return mdbkv.NullLoc, false, err
	}
	return kv.Val.Loc(), true, nil
}

// Touch seeks each of doc's keys to warm the pages holding them.
func (am *AccessMethod) Touch(stx storage.Tx, doc mdbkv.Document) error {
	keys, err := storage.GetKeys(am.entry.Descriptor(), doc)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	cur, err := mdbkv.OpenCursor(stx.KV, am.db)
	if err != nil {
		return err
	}
	defer cur.Close()
	for _, key := range keys {
		if _, err := cur.Seek(key); err != nil {
			return err
		}
	}
	return nil
}

// Validate walks all (key, loc) entries and returns the count, checking
// that locators decode and keys do not regress in order.
func (am *AccessMethod) Validate(stx storage.Tx) (int64, error) {
	cur, err := mdbkv.OpenCursor(stx.KV, am.db)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	var n int64
	var prevKey []byte
	for {
		kv, err := cur.Next()
		if err != nil {
			return n, err
		}
		if kv == nil {
			return n, nil
		}
		if kv.Val.Loc().IsNull() {
			return n, fmt.Errorf("%w: null locator in index %s", errInternal, am.entry.Descriptor().NS)
		}
		if prevKey != nil && bytes.Compare(kv.Key, prevKey) < 0 {
			return n, fmt.Errorf("%w: key order violation in index %s", errInternal, am.entry.Descriptor().NS)
		}
		prevKey = append(prevKey[:0], kv.Key...)
		n++
	}
}
