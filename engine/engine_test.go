package engine

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/openkv/mdbkv"
	"github.com/openkv/mdbkv/storage"
)

func setupEngine(t testing.TB) *storage.Engine {
	t.Helper()
	dir := t.TempDir()

	env, err := mdbkv.Open(filepath.Join(dir, "data"), mdbkv.Options{
		NoSubdir:  true,
		NoTLS:     true,
		IsTesting: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(env.Close)

	bdb, err := bbolt.Open(filepath.Join(dir, "classic.db"), 0600, &bbolt.Options{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bdb.Close() })

	return &storage.Engine{KV: env, Bolt: bdb}
}

type details struct {
	dataSize   int64
	numRecords int64
}

func (d *details) IsCapped() bool    { return false }
func (d *details) MaxSize() int64    { return math.MaxInt64 }
func (d *details) MaxDocs() int64    { return math.MaxInt64 }
func (d *details) DataSize() int64   { return d.dataSize }
func (d *details) NumRecords() int64 { return d.numRecords }
func (d *details) IncrementStats(ds, nr int64) {
	d.dataSize += ds
	d.numRecords += nr
}

type entry struct {
	d        storage.Descriptor
	multikey bool
}

func (e *entry) Descriptor() *storage.Descriptor { return &e.d }
func (e *entry) IsReady() bool                   { return true }
func (e *entry) IsMultikey() bool                { return e.multikey }
func (e *entry) SetMultikey()                    { e.multikey = true }
func (e *entry) Logf(format string, args ...any) {}

// Both backends serve the same contracts behind the catalog's backend
// flag; the wiring layer must dispatch record stores and indexes to
// whichever path the flag names.
func TestBackendDispatch(t *testing.T) {
	eng := setupEngine(t)

	for i, backend := range []storage.Backend{storage.KVBackend, storage.ClassicBackend} {
		t.Run(backend.String(), func(t *testing.T) {
			ns := fmt.Sprintf("test.col%d", i)
			colNum := uint32(10 + i)
			det := &details{}

			var rs storage.RecordStore
			var am storage.AccessMethod
			err := eng.Update(func(tx storage.Tx) error {
				var err error
				rs, err = OpenRecordStore(tx, backend, ns, colNum, det)
				if err != nil {
					return err
				}
				e := &entry{d: storage.Descriptor{
					Name:    "k_1",
					NS:      ns + ".$k_1",
					Pattern: []storage.Field{{Name: "k"}},
					Version: 1,
				}}
				am, err = OpenIndex(tx, backend, e)
				return err
			})
			if err != nil {
				t.Fatal(err)
			}

			err = eng.Update(func(tx storage.Tx) error {
				doc := mdbkv.Document{"k": 42, "s": "payload"}
				raw, err := doc.Marshal()
				if err != nil {
					return err
				}
				l, err := rs.InsertRecord(tx, raw)
				if err != nil {
					return err
				}
				if _, err := am.Insert(tx, doc, l, storage.InsertDeleteOptions{DupsAllowed: true}); err != nil {
					return err
				}

				key, err := mdbkv.AppendIndexKey(nil, mdbkv.Ordering{false}, []any{42})
				if err != nil {
					return err
				}
				got, found, err := am.FindSingle(tx, key)
				if err != nil {
					return err
				}
				if !found || got != l {
					t.Fatalf("FindSingle = (%v, %v), wanted (%v, true)", got, found, l)
				}

				data, err := rs.RecordFor(tx, got)
				if err != nil {
					return err
				}
				back, err := mdbkv.Data(data).Document()
				if err != nil {
					return err
				}
				if back["s"] != "payload" {
					t.Fatalf("stored document = %v", back)
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}

			if det.numRecords != 1 {
				t.Fatalf("numRecords = %d, wanted 1", det.numRecords)
			}
		})
	}
}

func TestUnknownBackend(t *testing.T) {
	eng := setupEngine(t)
	err := eng.Update(func(tx storage.Tx) error {
		_, err := OpenRecordStore(tx, storage.Backend(9), "test.x", 1, &details{})
		return err
	})
	if err == nil {
		t.Fatalf("unknown backend accepted")
	}
}
