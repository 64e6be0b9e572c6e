package recstore

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openkv/mdbkv"
	"github.com/openkv/mdbkv/storage"
)

func setup(t testing.TB) *mdbkv.Env {
	t.Helper()
	env, err := mdbkv.Open(filepath.Join(t.TempDir(), "data"), mdbkv.Options{
		NoSubdir:  true,
		NoTLS:     true,
		IsTesting: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(env.Close)
	return env
}

// testDetails is the catalog-owned stats/cap state for tests.
type testDetails struct {
	capped     bool
	maxSize    int64
	maxDocs    int64
	dataSize   int64
	numRecords int64
}

func (d *testDetails) IsCapped() bool    { return d.capped }
func (d *testDetails) MaxSize() int64    { return d.maxSize }
func (d *testDetails) MaxDocs() int64    { return d.maxDocs }
func (d *testDetails) DataSize() int64   { return d.dataSize }
func (d *testDetails) NumRecords() int64 { return d.numRecords }
func (d *testDetails) IncrementStats(dataSizeDelta, numRecordsDelta int64) {
	d.dataSize += dataSizeDelta
	d.numRecords += numRecordsDelta
}

func uncapped() *testDetails {
	return &testDetails{maxSize: math.MaxInt64, maxDocs: math.MaxInt64}
}

func openStore(t testing.TB, env *mdbkv.Env, ns string, details storage.Details) *Store {
	t.Helper()
	var s *Store
	err := env.Update(func(tx *mdbkv.Tx) error {
		var err error
		s, err = Open(tx, ns, 3, details)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func stx(tx *mdbkv.Tx) storage.Tx { return storage.Tx{KV: tx} }

func update(t testing.TB, env *mdbkv.Env, fn func(tx storage.Tx) error) {
	t.Helper()
	if err := env.Update(func(tx *mdbkv.Tx) error { return fn(stx(tx)) }); err != nil {
		t.Fatal(err)
	}
}

func TestInsertAndRecordFor(t *testing.T) {
	env := setup(t)
	details := uncapped()
	s := openStore(t, env, "test.things", details)

	var l mdbkv.DiskLoc
	update(t, env, func(tx storage.Tx) error {
		var err error
		l, err = s.InsertRecord(tx, []byte("first record"))
		return err
	})

	if l.Collection() != 3 || l.ID() != 0 {
		t.Fatalf("first locator = %v, wanted 3:0", l)
	}
	if details.dataSize != int64(len("first record")) || details.numRecords != 1 {
		t.Fatalf("stats = (%d, %d), wanted (%d, 1)", details.dataSize, details.numRecords, len("first record"))
	}

	update(t, env, func(tx storage.Tx) error {
		data, err := s.RecordFor(tx, l)
		if err != nil {
			return err
		}
		if string(data) != "first record" {
			t.Fatalf("RecordFor = %q", data)
		}
		return nil
	})
}

func TestRecordForWrongCollection(t *testing.T) {
	env := setup(t)
	s := openStore(t, env, "test.things", uncapped())

	update(t, env, func(tx storage.Tx) error {
		if _, err := s.InsertRecord(tx, []byte("x")); err != nil {
			return err
		}
		_, err := s.RecordFor(tx, mdbkv.MakeLoc(99, 0))
		if err == nil || !strings.Contains(err.Error(), "collection") {
			t.Fatalf("RecordFor with a foreign locator = %v, wanted collection mismatch", err)
		}
		return nil
	})
}

type bytesWriter []byte

func (w bytesWriter) DocumentSize() int { return len(w) }

func (w bytesWriter) WriteDocument(buf []byte) { copy(buf, w) }

func TestInsertRecordWriter(t *testing.T) {
	env := setup(t)
	details := uncapped()
	s := openStore(t, env, "test.things", details)

	doc := mdbkv.Document{"_id": "w1", "s": "written in place"}
	raw, err := doc.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	var l mdbkv.DiskLoc
	update(t, env, func(tx storage.Tx) error {
		l, err = s.InsertRecordWriter(tx, bytesWriter(raw))
		return err
	})

	update(t, env, func(tx storage.Tx) error {
		data, err := s.RecordFor(tx, l)
		if err != nil {
			return err
		}
		if !bytes.Equal(data, raw) {
			t.Fatalf("RecordFor = %x, wanted the writer's bytes", data)
		}
		back, err := data.Document()
		if err != nil {
			return err
		}
		if back["s"] != "written in place" {
			t.Fatalf("decoded document = %v", back)
		}
		return nil
	})
	if details.dataSize != int64(len(raw)) {
		t.Fatalf("dataSize = %d, wanted %d", details.dataSize, len(raw))
	}
}

func TestMonotonicIDsAndResume(t *testing.T) {
	env := setup(t)
	details := uncapped()
	s := openStore(t, env, "test.things", details)

	update(t, env, func(tx storage.Tx) error {
		for i := 0; i < 3; i++ {
			l, err := s.InsertRecord(tx, []byte{byte(i)})
			if err != nil {
				return err
			}
			if l.ID() != uint32(i) {
				t.Fatalf("locator #%d = %v, wanted sequential ids", i, l)
			}
		}
		return nil
	})

	// A reopened store resumes after the last stored id.
	s2 := openStore(t, env, "test.things", details)
	update(t, env, func(tx storage.Tx) error {
		l, err := s2.InsertRecord(tx, []byte("next"))
		if err != nil {
			return err
		}
		if l.ID() != 3 {
			t.Fatalf("id after reopen = %d, wanted 3", l.ID())
		}
		return nil
	})
}

func TestDeleteRecord(t *testing.T) {
	env := setup(t)
	details := uncapped()
	s := openStore(t, env, "test.things", details)

	var l mdbkv.DiskLoc
	update(t, env, func(tx storage.Tx) error {
		var err error
		l, err = s.InsertRecord(tx, []byte("doomed"))
		return err
	})

	update(t, env, func(tx storage.Tx) error {
		if err := s.DeleteRecord(tx, l); err != nil {
			return err
		}
		if _, err := s.RecordFor(tx, l); err == nil {
			t.Fatalf("RecordFor of a deleted record succeeded")
		}
		if err := s.DeleteRecord(tx, l); err == nil {
			t.Fatalf("double delete succeeded")
		}
		return nil
	})
	if details.dataSize != 0 || details.numRecords != 0 {
		t.Fatalf("stats after delete = (%d, %d), wanted (0, 0)", details.dataSize, details.numRecords)
	}
}

func TestTruncate(t *testing.T) {
	env := setup(t)
	s := openStore(t, env, "test.things", uncapped())

	update(t, env, func(tx storage.Tx) error {
		for i := 0; i < 5; i++ {
			if _, err := s.InsertRecord(tx, []byte("r")); err != nil {
				return err
			}
		}
		return nil
	})

	update(t, env, func(tx storage.Tx) error {
		if err := s.Truncate(tx); err != nil {
			return err
		}
		st, err := s.DB().Stat(tx.KV)
		if err != nil {
			return err
		}
		if st.Entries != 0 {
			t.Fatalf("Entries after Truncate = %d, wanted 0", st.Entries)
		}
		// Ids keep counting up; old locators never come back.
		l, err := s.InsertRecord(tx, []byte("after"))
		if err != nil {
			return err
		}
		if l.ID() != 5 {
			t.Fatalf("id after truncate = %d, wanted 5", l.ID())
		}
		return nil
	})
}

func TestCappedEviction(t *testing.T) {
	env := setup(t)
	details := &testDetails{capped: true, maxSize: 100, maxDocs: 1000}
	s := openStore(t, env, "test.capped", details)

	record := bytes.Repeat([]byte("x"), 30)
	var locs []mdbkv.DiskLoc
	insert := func() {
		update(t, env, func(tx storage.Tx) error {
			l, err := s.InsertRecord(tx, record)
			locs = append(locs, l)
			return err
		})
	}

	for i := 0; i < 3; i++ {
		insert()
	}
	if details.numRecords != 3 || details.dataSize != 90 {
		t.Fatalf("stats before overflow = (%d, %d), wanted (90, 3)", details.dataSize, details.numRecords)
	}

	// The fourth insert pushes dataSize to 120 and evicts the oldest
	// record; the fifth evicts the next one.
	insert()
	if details.numRecords != 3 || details.dataSize != 90 {
		t.Fatalf("stats after insert #4 = (%d, %d), wanted (90, 3)", details.dataSize, details.numRecords)
	}
	insert()
	if details.numRecords != 3 || details.dataSize != 90 {
		t.Fatalf("stats after insert #5 = (%d, %d), wanted (90, 3)", details.dataSize, details.numRecords)
	}

	update(t, env, func(tx storage.Tx) error {
		for i, l := range locs {
			_, err := s.RecordFor(tx, l)
			if i < 2 && err == nil {
				t.Fatalf("record #%d survived eviction", i)
			}
			if i >= 2 && err != nil {
				t.Fatalf("record #%d evicted too early: %v", i, err)
			}
		}
		return nil
	})
}

func TestCappedMaxDocs(t *testing.T) {
	env := setup(t)
	details := &testDetails{capped: true, maxSize: math.MaxInt64, maxDocs: 2}
	s := openStore(t, env, "test.capped2", details)

	update(t, env, func(tx storage.Tx) error {
		for i := 0; i < 5; i++ {
			if _, err := s.InsertRecord(tx, []byte{byte(i)}); err != nil {
				return err
			}
		}
		return nil
	})
	if details.numRecords != 2 {
		t.Fatalf("numRecords = %d, wanted 2", details.numRecords)
	}

	update(t, env, func(tx storage.Tx) error {
		// Only the two newest records remain.
		for id := uint32(0); id < 3; id++ {
			if _, err := s.RecordFor(tx, mdbkv.MakeLoc(3, id)); err == nil {
				t.Fatalf("record %d survived maxDocs eviction", id)
			}
		}
		for id := uint32(3); id < 5; id++ {
			if _, err := s.RecordFor(tx, mdbkv.MakeLoc(3, id)); err != nil {
				t.Fatalf("record %d missing: %v", id, err)
			}
		}
		return nil
	})
}
