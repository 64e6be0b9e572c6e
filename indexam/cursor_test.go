package indexam

import (
	"errors"
	"testing"

	"github.com/openkv/mdbkv"
	"github.com/openkv/mdbkv/storage"
)

// seedDupIndex fills a non-unique index with {(5,L1),(5,L2),(5,L3),(6,L4)}.
func seedDupIndex(t testing.TB, env *mdbkv.Env) (*AccessMethod, *testEntry) {
	t.Helper()
	entry := newEntry(false, false, storage.Field{Name: "k"})
	am := openAM(t, env, entry)
	opts := storage.InsertDeleteOptions{DupsAllowed: true}
	update(t, env, func(tx storage.Tx) error {
		for id := uint32(1); id <= 3; id++ {
			if _, err := am.Insert(tx, mdbkv.Document{"k": 5}, loc(id), opts); err != nil {
				return err
			}
		}
		_, err := am.Insert(tx, mdbkv.Document{"k": 6}, loc(4), opts)
		return err
	})
	return am, entry
}

func wantPos(t testing.TB, c storage.IndexCursor, am *AccessMethod, kval int, l mdbkv.DiskLoc) {
	t.Helper()
	if c.IsEOF() {
		t.Fatalf("cursor at EOF, wanted (%d, %v)", kval, l)
	}
	wantKey, err := am.EncodeKey(kval)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Value(); got != l {
		t.Fatalf("cursor value = %v, wanted %v", got, l)
	}
	if got := c.Key(); string(got) != string(wantKey) {
		t.Fatalf("cursor key = %x, wanted %x (key %d)", got, wantKey, kval)
	}
}

func TestCursorForwardTraversal(t *testing.T) {
	env := setup(t)
	am, _ := seedDupIndex(t, env)

	update(t, env, func(tx storage.Tx) error {
		c, err := am.NewCursor(tx, storage.Forward)
		if err != nil {
			return err
		}
		defer c.Close()

		key, _ := am.EncodeKey(5)
		if err := c.Seek(key, false); err != nil {
			return err
		}
		wantPos(t, c, am, 5, loc(1))

		for _, want := range []struct {
			k int
			l mdbkv.DiskLoc
		}{{5, loc(2)}, {5, loc(3)}, {6, loc(4)}} {
			if err := c.Next(); err != nil {
				return err
			}
			wantPos(t, c, am, want.k, want.l)
		}
		if err := c.Next(); err != nil {
			return err
		}
		if !c.IsEOF() {
			t.Fatalf("cursor not at EOF after the last entry")
		}
		return nil
	})
}

func TestCursorSeekAfterKey(t *testing.T) {
	env := setup(t)
	am, _ := seedDupIndex(t, env)

	update(t, env, func(tx storage.Tx) error {
		c, err := am.NewCursor(tx, storage.Forward)
		if err != nil {
			return err
		}
		defer c.Close()

		key, _ := am.EncodeKey(5)
		if err := c.Seek(key, true); err != nil {
			return err
		}
		wantPos(t, c, am, 6, loc(4))

		key, _ = am.EncodeKey(6)
		if err := c.Seek(key, true); err != nil {
			return err
		}
		if !c.IsEOF() {
			t.Fatalf("seek after the last key did not hit EOF")
		}
		return nil
	})
}

func TestCursorReverse(t *testing.T) {
	env := setup(t)
	am, _ := seedDupIndex(t, env)

	update(t, env, func(tx storage.Tx) error {
		c, err := am.NewCursor(tx, storage.Reverse)
		if err != nil {
			return err
		}
		defer c.Close()

		// Landing on a multi-valued key starts at its last duplicate.
		key, _ := am.EncodeKey(5)
		if err := c.Seek(key, false); err != nil {
			return err
		}
		wantPos(t, c, am, 5, loc(3))

		for _, want := range []struct {
			k int
			l mdbkv.DiskLoc
		}{{5, loc(2)}, {5, loc(1)}} {
			if err := c.Next(); err != nil {
				return err
			}
			wantPos(t, c, am, want.k, want.l)
		}
		if err := c.Next(); err != nil {
			return err
		}
		if !c.IsEOF() {
			t.Fatalf("reverse traversal did not hit EOF")
		}

		// Seeking past the top lands on the last entry.
		key, _ = am.EncodeKey(7)
		c2, err := am.NewCursor(tx, storage.Reverse)
		if err != nil {
			return err
		}
		defer c2.Close()
		if err := c2.Seek(key, false); err != nil {
			return err
		}
		wantPos(t, c2, am, 6, loc(4))

		// afterKey on a reverse cursor skips back over the key.
		key, _ = am.EncodeKey(6)
		if err := c2.Seek(key, true); err != nil {
			return err
		}
		wantPos(t, c2, am, 5, loc(3))
		return nil
	})
}

func TestCursorSaveRestoreUnchanged(t *testing.T) {
	env := setup(t)
	am, _ := seedDupIndex(t, env)

	update(t, env, func(tx storage.Tx) error {
		c, err := am.NewCursor(tx, storage.Forward)
		if err != nil {
			return err
		}
		defer c.Close()

		key, _ := am.EncodeKey(5)
		ensureNil(t, c.Seek(key, false))
		ensureNil(t, c.Next())
		wantPos(t, c, am, 5, loc(2))

		ensureNil(t, c.SavePosition())
		ensureNil(t, c.RestorePosition(tx))
		wantPos(t, c, am, 5, loc(2))
		return nil
	})
}

func TestCursorSaveRestoreAcrossDeletion(t *testing.T) {
	env := setup(t)
	am, _ := seedDupIndex(t, env)

	update(t, env, func(tx storage.Tx) error {
		c, err := am.NewCursor(tx, storage.Forward)
		if err != nil {
			return err
		}
		defer c.Close()

		key, _ := am.EncodeKey(5)
		ensureNil(t, c.Seek(key, false))
		ensureNil(t, c.Next())
		wantPos(t, c, am, 5, loc(2))

		ensureNil(t, c.SavePosition())

		// Delete (5, L2) through the access method on the same write
		// transaction while the cursor is detached.
		if _, err := am.Remove(tx, mdbkv.Document{"k": 5}, loc(2), storage.InsertDeleteOptions{}); err != nil {
			return err
		}

		ensureNil(t, c.RestorePosition(tx))
		wantPos(t, c, am, 5, loc(3))

		ensureNil(t, c.Next())
		wantPos(t, c, am, 6, loc(4))
		ensureNil(t, c.Next())
		if !c.IsEOF() {
			t.Fatalf("cursor not at EOF after the last entry")
		}
		return nil
	})
}

func TestCursorReverseRestoreAcrossDeletion(t *testing.T) {
	env := setup(t)
	am, _ := seedDupIndex(t, env)

	update(t, env, func(tx storage.Tx) error {
		c, err := am.NewCursor(tx, storage.Reverse)
		if err != nil {
			return err
		}
		defer c.Close()

		key, _ := am.EncodeKey(5)
		ensureNil(t, c.Seek(key, false))
		ensureNil(t, c.Next())
		wantPos(t, c, am, 5, loc(2))

		ensureNil(t, c.SavePosition())
		if _, err := am.Remove(tx, mdbkv.Document{"k": 5}, loc(2), storage.InsertDeleteOptions{}); err != nil {
			return err
		}
		ensureNil(t, c.RestorePosition(tx))

		// The range seek lands past the mark at (5, L3); reverse
		// reconciliation steps back to (5, L1).
		wantPos(t, c, am, 5, loc(1))
		ensureNil(t, c.Next())
		if !c.IsEOF() {
			t.Fatalf("reverse cursor not at EOF past the first entry")
		}
		return nil
	})
}

func TestCursorSaveAtEOFFails(t *testing.T) {
	env := setup(t)
	am, _ := seedDupIndex(t, env)

	update(t, env, func(tx storage.Tx) error {
		c, err := am.NewCursor(tx, storage.Forward)
		if err != nil {
			return err
		}
		defer c.Close()

		key, _ := am.EncodeKey(99)
		ensureNil(t, c.Seek(key, false))
		if !c.IsEOF() {
			t.Fatalf("seek past the end did not hit EOF")
		}
		if err := c.SavePosition(); !errors.Is(err, mdbkv.ErrIllegalOperation) {
			t.Fatalf("SavePosition at EOF = %v, wanted ErrIllegalOperation", err)
		}
		return nil
	})
}

func TestCursorPointsAt(t *testing.T) {
	env := setup(t)
	am, _ := seedDupIndex(t, env)

	update(t, env, func(tx storage.Tx) error {
		a, err := am.NewCursor(tx, storage.Forward)
		if err != nil {
			return err
		}
		defer a.Close()
		b, err := am.NewCursor(tx, storage.Forward)
		if err != nil {
			return err
		}
		defer b.Close()

		key, _ := am.EncodeKey(5)
		ensureNil(t, a.Seek(key, false))
		ensureNil(t, b.Seek(key, false))
		if !a.PointsAt(b) {
			t.Fatalf("cursors at the same pair do not point at each other")
		}

		ensureNil(t, b.Next())
		if a.PointsAt(b) {
			t.Fatalf("cursors at different locators point at each other")
		}

		key, _ = am.EncodeKey(99)
		ensureNil(t, a.Seek(key, false))
		ensureNil(t, b.Seek(key, false))
		if !a.PointsAt(b) {
			t.Fatalf("two EOF cursors do not point at each other")
		}
		return nil
	})
}

func ensureNil(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatal(err)
	}
}
