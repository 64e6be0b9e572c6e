package mdbkv

import (
	"github.com/bmatsuo/lmdb-go/lmdb"
)

// KV is one key-value pair positioned under a cursor. Both fields are
// views; see the package documentation for their lifetime.
type KV struct {
	Key Data
	Val Data
}

// Cursor positions over the key-value pairs of one database. A cursor
// is bound to the transaction that opened it, is owned exclusively by
// that transaction's goroutine, and is invalidated when the transaction
// ends. Positioning operations return nil when there is no pair to move
// to; that is never an error.
//
// On a DupSort database, forward iteration visits the values of one key
// in value order before moving to the next key.
type Cursor struct {
	c  *lmdb.Cursor
	tx *Tx
	db DB
}

func OpenCursor(tx *Tx, db DB) (*Cursor, error) {
	if !db.ok {
		return nil, opErr("open cursor", errClosedDB)
	}
	c, err := tx.txn.OpenCursor(db.dbi)
	if err != nil {
		return nil, opErrf(err, "open cursor on %s", db.name)
	}
	return &Cursor{c: c, tx: tx, db: db}, nil
}

// Close releases the cursor. Cursors of a write transaction must be
// closed before the transaction ends; read-transaction cursors are
// closed automatically but may be closed early.
func (c *Cursor) Close() {
	c.c.Close()
}

func (c *Cursor) get(op uint, setkey, setval []byte) (*KV, error) {
	c.tx.env.ReadCount.Add(1)
	k, v, err := c.c.Get(setkey, setval, op)
	if lmdb.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, opErrf(err, "cursor get %s", c.db.name)
	}
	return &KV{Data(k), Data(v)}, nil
}

func (c *Cursor) First() (*KV, error)    { return c.get(lmdb.First, nil, nil) }
func (c *Cursor) FirstDup() (*KV, error) { return c.get(lmdb.FirstDup, nil, nil) }
func (c *Cursor) Last() (*KV, error)     { return c.get(lmdb.Last, nil, nil) }
func (c *Cursor) LastDup() (*KV, error)  { return c.get(lmdb.LastDup, nil, nil) }
func (c *Cursor) Current() (*KV, error)  { return c.get(lmdb.GetCurrent, nil, nil) }

func (c *Cursor) Next() (*KV, error)      { return c.get(lmdb.Next, nil, nil) }
func (c *Cursor) NextDup() (*KV, error)   { return c.get(lmdb.NextDup, nil, nil) }
func (c *Cursor) NextNoDup() (*KV, error) { return c.get(lmdb.NextNoDup, nil, nil) }
func (c *Cursor) Prev() (*KV, error)      { return c.get(lmdb.Prev, nil, nil) }
func (c *Cursor) PrevDup() (*KV, error)   { return c.get(lmdb.PrevDup, nil, nil) }
func (c *Cursor) PrevNoDup() (*KV, error) { return c.get(lmdb.PrevNoDup, nil, nil) }

// Seek positions at key without fetching the pair; reports whether the
// exact key exists.
func (c *Cursor) Seek(key Data) (bool, error) {
	kv, err := c.get(lmdb.Set, key, nil)
	return kv != nil, err
}

// SeekKey positions at the exact key and returns the pair.
func (c *Cursor) SeekKey(key Data) (*KV, error) {
	return c.get(lmdb.SetKey, key, nil)
}

// SeekRange positions at the smallest key >= key.
func (c *Cursor) SeekRange(key Data) (*KV, error) {
	return c.get(lmdb.SetRange, key, nil)
}

// SeekBoth positions at the exact key-value pair of a DupSort database.
func (c *Cursor) SeekBoth(key, val Data) (*KV, error) {
	return c.get(lmdb.GetBoth, key, val)
}

// SeekBothRange positions at key's smallest duplicate >= val.
func (c *Cursor) SeekBothRange(key, val Data) (*KV, error) {
	return c.get(lmdb.GetBothRange, key, val)
}

func (c *Cursor) Put(key, val Data, flags uint) error {
	c.tx.env.WriteCount.Add(1)
	metricPuts.Inc()
	err := c.c.Put(key, val, flags)
	if err != nil {
		return opErrf(err, "cursor put %s", c.db.name)
	}
	return nil
}

// PutReserve allocates n bytes for key's value and returns the writable
// region for the caller to fill before the next operation on this
// cursor or its transaction.
func (c *Cursor) PutReserve(key Data, n int, flags uint) (Data, error) {
	c.tx.env.WriteCount.Add(1)
	metricPuts.Inc()
	buf, err := c.c.PutReserve(key, n, flags)
	if err != nil {
		return nil, opErrf(err, "cursor put reserve %s", c.db.name)
	}
	return Data(buf), nil
}

// ReplaceCurrent overwrites the value of the pair the cursor is
// positioned at.
func (c *Cursor) ReplaceCurrent(val Data) error {
	kv, err := c.Current()
	if err != nil {
		return err
	}
	if kv == nil {
		return opErr("replace current", ErrIllegalOperation)
	}
	c.tx.env.WriteCount.Add(1)
	err = c.c.Put(kv.Key, val, lmdb.Current)
	if err != nil {
		return opErrf(err, "cursor replace %s", c.db.name)
	}
	return nil
}

// DeleteCurrent removes the pair the cursor is positioned at. The
// cursor is left on the gap; Next moves to the deleted pair's
// successor.
func (c *Cursor) DeleteCurrent() error {
	c.tx.env.WriteCount.Add(1)
	metricDeletes.Inc()
	return opErrf(c.c.Del(0), "cursor del %s", c.db.name)
}

// DeleteCurrentAllDups removes every duplicate of the current key.
func (c *Cursor) DeleteCurrentAllDups() error {
	c.tx.env.WriteCount.Add(1)
	metricDeletes.Inc()
	return opErrf(c.c.Del(lmdb.NoDupData), "cursor del dups %s", c.db.name)
}

// CountDups returns the number of values stored under the current key.
func (c *Cursor) CountDups() (uint64, error) {
	n, err := c.c.Count()
	if err != nil {
		return 0, opErrf(err, "cursor count %s", c.db.name)
	}
	return n, nil
}
