package indexam

import (
	"bytes"

	"github.com/openkv/mdbkv"
	"github.com/openkv/mdbkv/storage"
)

// Cursor walks one index in a fixed direction, implementing the legacy
// B-tree cursor contract. It is in one of three states: positioned at a
// (key, locator) pair, at EOF, or detached (after SavePosition, holding
// an owned copy of the last pair until RestorePosition reattaches it).
type Cursor struct {
	am  *AccessMethod
	tx  *mdbkv.Tx
	cur *mdbkv.Cursor
	dir storage.CursorDirection
	eof bool

	savedKey []byte
	savedLoc mdbkv.DiskLoc
}

var _ storage.IndexCursor = (*Cursor)(nil)

// NewCursor opens an index cursor bound to tx.
func (am *AccessMethod) NewCursor(stx storage.Tx, dir storage.CursorDirection) (storage.IndexCursor, error) {
	cur, err := mdbkv.OpenCursor(stx.KV, am.db)
	if err != nil {
		return nil, err
	}
	return &Cursor{am: am, tx: stx.KV, cur: cur, dir: dir}, nil
}

func (c *Cursor) IsEOF() bool {
	return c.eof
}

func (c *Cursor) forward() bool {
	return c.dir == storage.Forward
}

// Seek positions at the first entry at or after key (reverse: walking
// back from there). With afterKey, entries whose key equals key are
// skipped in cursor direction.
func (c *Cursor) Seek(key []byte, afterKey bool) error {
	if c.cur == nil {
		return opIllegal("cursor is detached")
	}
	kv, err := c.cur.SeekRange(key)
	if err != nil {
		return err
	}
	if kv == nil {
		if c.forward() {
			c.eof = true
			return nil
		}
		kv, err = c.cur.Last()
		if err != nil {
			return err
		}
		c.eof = kv == nil
		return nil
	}

	if afterKey && bytes.Equal(kv.Key, key) {
		if c.forward() {
			kv, err = c.cur.NextNoDup()
		} else {
			kv, err = c.cur.PrevNoDup()
		}
		if err != nil {
			return err
		}
		c.eof = kv == nil
		return nil
	}

	if err := c.adjustToDupEdge(); err != nil {
		return err
	}
	c.eof = false
	return nil
}

// adjustToDupEdge moves a cursor that landed on a multi-valued key to
// the duplicate matching the traversal direction: first for forward,
// last for reverse.
func (c *Cursor) adjustToDupEdge() error {
	if !c.am.dupSort {
		return nil
	}
	n, err := c.cur.CountDups()
	if err != nil {
		return err
	}
	if n <= 1 {
		return nil
	}
	var kv *mdbkv.KV
	if c.forward() {
		kv, err = c.cur.FirstDup()
	} else {
		kv, err = c.cur.LastDup()
	}
	if err != nil {
		return err
	}
	if kv == nil {
		return opIllegal("dup edge vanished")
	}
	return nil
}

// Next advances one entry in cursor direction, traversing duplicates.
func (c *Cursor) Next() error {
	if c.eof {
		return nil
	}
	if c.cur == nil {
		return opIllegal("cursor is detached")
	}
	var kv *mdbkv.KV
	var err error
	if c.forward() {
		kv, err = c.cur.Next()
	} else {
		kv, err = c.cur.Prev()
	}
	if err != nil {
		return err
	}
	c.eof = kv == nil
	return nil
}

// Key returns a view of the current encoded index key, nil at EOF or
// while detached.
func (c *Cursor) Key() []byte {
	kv := c.current()
	if kv == nil {
		return nil
	}
	return kv.Key
}

// Value returns the current record locator, NullLoc at EOF or while
// detached.
func (c *Cursor) Value() mdbkv.DiskLoc {
	kv := c.current()
	if kv == nil {
		return mdbkv.NullLoc
	}
	return kv.Val.Loc()
}

func (c *Cursor) current() *mdbkv.KV {
	if c.eof || c.cur == nil {
		return nil
	}
	kv, err := c.cur.Current()
	if err != nil {
		return nil
	}
	return kv
}

// PointsAt reports whether both cursors reference the same (key,
// locator) pair. The cheaper locator comparison runs first.
func (c *Cursor) PointsAt(other storage.IndexCursor) bool {
	if c.IsEOF() {
		return other.IsEOF()
	}
	if other.IsEOF() {
		return false
	}
	return c.Value() == other.Value() && bytes.Equal(c.Key(), other.Key())
}

// SavePosition materializes an owned copy of the current pair and drops
// the underlying cursor handle. Fails at EOF.
func (c *Cursor) SavePosition() error {
	if c.eof {
		return opIllegal("can't save position when EOF")
	}
	if c.cur == nil {
		return opIllegal("cursor is detached")
	}
	kv, err := c.cur.Current()
	if err != nil {
		return err
	}
	if kv == nil {
		return opIllegal("can't save unpositioned cursor")
	}
	c.savedKey = append(c.savedKey[:0], kv.Key...)
	c.savedLoc = kv.Val.Loc()
	c.cur.Close()
	c.cur = nil
	return nil
}

// RestorePosition opens a fresh cursor under tx and repositions at the
// saved pair. If the pair was deleted, the cursor lands on the closest
// surviving entry in traversal direction: forward moves past the saved
// pair, reverse settles on the largest pair at or below it; EOF when
// nothing qualifies.
func (c *Cursor) RestorePosition(stx storage.Tx) error {
	if c.eof {
		return opIllegal("can't restore position when EOF")
	}
	tx := stx.KV
	cur, err := mdbkv.OpenCursor(tx, c.am.db)
	if err != nil {
		return err
	}
	c.tx = tx
	c.cur = cur

	kv, err := c.seekBothRange(c.savedKey, c.savedLoc)
	if err != nil {
		return err
	}
	if kv != nil {
		// The easy case: an entry at or after the saved locator still
		// exists under the saved key.
		if c.forward() || kv.Val.Loc() == c.savedLoc {
			c.eof = false
			return nil
		}
		// Reverse order and we've passed the mark.
		kv, err = c.cur.Prev()
		if err != nil {
			return err
		}
		c.eof = kv == nil
		return nil
	}

	if c.forward() {
		kv, err = c.cur.SeekRange(c.savedKey)
		if err != nil {
			return err
		}
		if kv == nil {
			c.eof = true
			return nil
		}
		if bytes.Equal(kv.Key, c.savedKey) {
			// Positioned at an earlier locator and there are no later
			// ones for this key.
			kv, err = c.cur.NextNoDup()
			if err != nil {
				return err
			}
			c.eof = kv == nil
			return nil
		}
		c.eof = false
		return nil
	}

	kv, err = c.cur.SeekRange(c.savedKey)
	if err != nil {
		return err
	}
	if kv == nil {
		kv, err = c.cur.Last()
		if err != nil {
			return err
		}
		c.eof = kv == nil
		return nil
	}
	if bytes.Equal(kv.Key, c.savedKey) {
		// This key holds nothing at or above the saved locator; its
		// last duplicate is the largest pair below the mark.
		if c.am.dupSort {
			n, err := c.cur.CountDups()
			if err != nil {
				return err
			}
			if n > 1 {
				kv, err = c.cur.LastDup()
				if err != nil {
					return err
				}
				if kv == nil {
					return opIllegal("dup edge vanished")
				}
			}
		}
		c.eof = false
		return nil
	}
	// Passed the mark: step back from the first entry of the next key.
	kv, err = c.cur.Prev()
	if err != nil {
		return err
	}
	c.eof = kv == nil
	return nil
}

// seekBothRange positions at the saved key's smallest locator >= loc.
// A unique index holds one locator per key, so the duplicate-range seek
// reduces to an exact key lookup there.
func (c *Cursor) seekBothRange(key []byte, loc mdbkv.DiskLoc) (*mdbkv.KV, error) {
	if c.am.dupSort {
		return c.cur.SeekBothRange(key, mdbkv.LocData(loc))
	}
	kv, err := c.cur.SeekKey(key)
	if err != nil || kv == nil {
		return nil, err
	}
	if kv.Val.Loc() < loc {
		return nil, nil
	}
	return kv, nil
}

func (c *Cursor) Close() {
	if c.cur != nil {
		c.cur.Close()
		c.cur = nil
	}
}

func opIllegal(msg string) error {
	return &mdbkv.Error{Op: msg, Err: mdbkv.ErrIllegalOperation}
}
