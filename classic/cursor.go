package classic

import (
	"bytes"

	"github.com/openkv/mdbkv"
	"github.com/openkv/mdbkv/storage"
)

// Cursor walks a classic index in a fixed direction. The composite
// entry keys make every positioning operation a plain bucket seek; the
// current entry is kept as an owned copy so mutations under the same
// transaction cannot invalidate it between moves.
type Cursor struct {
	am  *AccessMethod
	tx  storage.Tx
	dir storage.CursorDirection
	eof bool
	ek  []byte

	savedKey []byte
	savedLoc mdbkv.DiskLoc
}

var _ storage.IndexCursor = (*Cursor)(nil)

func (am *AccessMethod) NewCursor(stx storage.Tx, dir storage.CursorDirection) (storage.IndexCursor, error) {
	if _, err := am.b(stx.Bolt); err != nil {
		return nil, err
	}
	return &Cursor{am: am, tx: stx, dir: dir}, nil
}

func (c *Cursor) IsEOF() bool { return c.eof }

func (c *Cursor) forward() bool { return c.dir == storage.Forward }

func (c *Cursor) set(ek []byte) {
	if ek == nil {
		c.eof = true
		c.ek = c.ek[:0]
		return
	}
	c.eof = false
	c.ek = append(c.ek[:0], ek...)
}

func (c *Cursor) Seek(key []byte, afterKey bool) error {
	b, err := c.am.b(c.tx.Bolt)
	if err != nil {
		return err
	}
	cur := b.Cursor()

	ek, _ := cur.Seek(key)
	if ek == nil {
		if c.forward() {
			c.set(nil)
			return nil
		}
		ek, _ = cur.Last()
		c.set(ek)
		return nil
	}

	landed, _ := splitEntry(ek)
	if afterKey && bytes.Equal(landed, key) {
		if c.forward() {
			for ek != nil && bytes.HasPrefix(ek, key) {
				ek, _ = cur.Next()
			}
		} else {
			ek, _ = cur.Prev()
		}
		c.set(ek)
		return nil
	}

	if !c.forward() {
		// Reverse traversal starts at the landed key's last duplicate.
		landedKey := append([]byte(nil), landed...)
		last := ek
		for ek != nil && bytes.HasPrefix(ek, landedKey) {
			last = ek
			ek, _ = cur.Next()
		}
		c.set(last)
		return nil
	}
	c.set(ek)
	return nil
}

func (c *Cursor) Next() error {
	if c.eof {
		return nil
	}
	b, err := c.am.b(c.tx.Bolt)
	if err != nil {
		return err
	}
	cur := b.Cursor()
	ek, _ := cur.Seek(c.ek)
	if c.forward() {
		if ek != nil && bytes.Equal(ek, c.ek) {
			ek, _ = cur.Next()
		}
		// A deleted current entry already leaves the seek on its
		// successor.
	} else {
		ek, _ = cur.Prev()
	}
	c.set(ek)
	return nil
}

func (c *Cursor) Key() []byte {
	if c.eof || len(c.ek) == 0 {
		return nil
	}
	key, _ := splitEntry(c.ek)
	return key
}

func (c *Cursor) Value() mdbkv.DiskLoc {
	if c.eof || len(c.ek) == 0 {
		return mdbkv.NullLoc
	}
	_, loc := splitEntry(c.ek)
	return loc
}

func (c *Cursor) PointsAt(other storage.IndexCursor) bool {
	if c.IsEOF() {
		return other.IsEOF()
	}
	if other.IsEOF() {
		return false
	}
	return c.Value() == other.Value() && bytes.Equal(c.Key(), other.Key())
}

func (c *Cursor) SavePosition() error {
	if c.eof || len(c.ek) == 0 {
		return &mdbkv.Error{Op: "can't save position when EOF", Err: mdbkv.ErrIllegalOperation}
	}
	key, loc := splitEntry(c.ek)
	c.savedKey = append(c.savedKey[:0], key...)
	c.savedLoc = loc
	c.ek = c.ek[:0]
	return nil
}

func (c *Cursor) RestorePosition(stx storage.Tx) error {
	c.tx = stx
	b, err := c.am.b(stx.Bolt)
	if err != nil {
		return err
	}
	cur := b.Cursor()

	target := entryKey(c.savedKey, c.savedLoc)
	ek, _ := cur.Seek(target)
	if c.forward() {
		// Landing on the saved pair, a later duplicate, or a later key
		// are all correct forward positions; nothing at or after the
		// saved pair means EOF.
		c.set(ek)
		return nil
	}
	if ek != nil && bytes.Equal(ek, target) {
		c.set(ek)
		return nil
	}
	if ek == nil {
		ek, _ = cur.Last()
	} else {
		ek, _ = cur.Prev()
	}
	c.set(ek)
	return nil
}

func (c *Cursor) Close() {
	c.ek = nil
}
