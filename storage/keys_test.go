package storage

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/openkv/mdbkv"
)

func testDescriptor(unique bool, fields ...Field) *Descriptor {
	return &Descriptor{
		Name:    "k_1",
		NS:      "test.things.$k_1",
		Pattern: fields,
		Unique:  unique,
		Version: 1,
	}
}

func mustKey(t testing.TB, ord mdbkv.Ordering, values ...any) []byte {
	t.Helper()
	key, err := mdbkv.AppendIndexKey(nil, ord, values)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func TestGetKeysSingle(t *testing.T) {
	d := testDescriptor(false, Field{Name: "k"})
	keys, err := GetKeys(d, mdbkv.Document{"k": 42})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]byte{mustKey(t, d.Ordering(), 42)}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("GetKeys = %x, wanted %x", keys, want)
	}
}

func TestGetKeysMissingFieldIsNull(t *testing.T) {
	d := testDescriptor(false, Field{Name: "k"}, Field{Name: "m"})
	keys, err := GetKeys(d, mdbkv.Document{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]byte{mustKey(t, d.Ordering(), "v", nil)}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("GetKeys = %x, wanted %x", keys, want)
	}
}

func TestGetKeysMultikey(t *testing.T) {
	d := testDescriptor(false, Field{Name: "tags"})
	keys, err := GetKeys(d, mdbkv.Document{"tags": []any{"b", "a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	// Sorted in index order, deduplicated.
	want := [][]byte{
		mustKey(t, d.Ordering(), "a"),
		mustKey(t, d.Ordering(), "b"),
	}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("GetKeys = %x, wanted %x", keys, want)
	}
}

func TestGetKeysEmptyArrayIndexesAsNull(t *testing.T) {
	d := testDescriptor(false, Field{Name: "tags"})
	keys, err := GetKeys(d, mdbkv.Document{"tags": []any{}})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]byte{mustKey(t, d.Ordering(), nil)}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("GetKeys = %x, wanted %x", keys, want)
	}
}

func TestGetKeysParallelArraysRejected(t *testing.T) {
	d := testDescriptor(false, Field{Name: "a"}, Field{Name: "b"})
	_, err := GetKeys(d, mdbkv.Document{"a": []any{1}, "b": []any{2}})
	if err == nil {
		t.Fatalf("parallel arrays accepted, wanted error")
	}
}

func TestKeySetDifference(t *testing.T) {
	k := func(s string) []byte { return []byte(s) }
	l := [][]byte{k("a"), k("b"), k("d")}
	r := [][]byte{k("b"), k("c")}

	diff := KeySetDifference(l, r)
	if !reflect.DeepEqual(diff, [][]byte{k("a"), k("d")}) {
		t.Fatalf("difference = %q", diff)
	}
	if KeySetDifference(nil, r) != nil {
		t.Fatalf("difference of empty set is not empty")
	}
	if got := KeySetDifference(l, nil); !reflect.DeepEqual(got, l) {
		t.Fatalf("difference with empty right = %q", got)
	}
}

func TestMemSorter(t *testing.T) {
	s := NewMemSorter()
	add := func(key string, loc mdbkv.DiskLoc) {
		if err := s.Add([]byte(key), loc); err != nil {
			t.Fatal(err)
		}
	}
	add("b", mdbkv.MakeLoc(1, 2))
	add("a", mdbkv.MakeLoc(1, 9))
	add("b", mdbkv.MakeLoc(1, 1))

	if err := s.Sort(); err != nil {
		t.Fatal(err)
	}

	type pair struct {
		key string
		loc mdbkv.DiskLoc
	}
	var got []pair
	it := s.Iter()
	for {
		key, loc, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, pair{string(key), loc})
	}
	want := []pair{
		{"a", mdbkv.MakeLoc(1, 9)},
		{"b", mdbkv.MakeLoc(1, 1)},
		{"b", mdbkv.MakeLoc(1, 2)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("sorted pairs = %v, wanted %v", got, want)
	}
}

func TestDupSetCap(t *testing.T) {
	s := NewDupSetWithLimit(2)
	if err := s.Add(mdbkv.MakeLoc(0, 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(mdbkv.MakeLoc(0, 2)); err != ErrTooManyDuplicates {
		t.Fatalf("Add at the cap = %v, wanted ErrTooManyDuplicates", err)
	}
	if !s.Has(mdbkv.MakeLoc(0, 1)) || s.Len() != 2 {
		t.Fatalf("set contents wrong after cap hit")
	}
}

func TestGetKeysAreBytewiseSorted(t *testing.T) {
	d := testDescriptor(false, Field{Name: "n"})
	keys, err := GetKeys(d, mdbkv.Document{"n": []any{5, 1, 3, 2, 4}})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i-1], keys[i]) >= 0 {
			t.Fatalf("key set not sorted at #%d", i)
		}
	}
}
