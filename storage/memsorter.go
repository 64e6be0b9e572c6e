package storage

import (
	"bytes"
	"sort"

	"github.com/openkv/mdbkv"
)

// MemSorter is an in-memory Sorter for tests and small builds. Real
// bulk builds plug in an external sorter that spills to disk; both
// order pairs by encoded key bytes, then locator.
type MemSorter struct {
	pairs  []sortPair
	sorted bool
}

type sortPair struct {
	key []byte
	loc mdbkv.DiskLoc
}

func NewMemSorter() *MemSorter {
	return &MemSorter{}
}

func (s *MemSorter) Add(key []byte, loc mdbkv.DiskLoc) error {
	k := make([]byte, len(key))
	copy(k, key)
	s.pairs = append(s.pairs, sortPair{k, loc})
	s.sorted = false
	return nil
}

func (s *MemSorter) Sort() error {
	sort.Slice(s.pairs, func(i, j int) bool {
		c := bytes.Compare(s.pairs[i].key, s.pairs[j].key)
		if c != 0 {
			return c < 0
		}
		return s.pairs[i].loc < s.pairs[j].loc
	})
	s.sorted = true
	return nil
}

func (s *MemSorter) Len() int {
	return len(s.pairs)
}

func (s *MemSorter) Iter() SorterIterator {
	return &memSorterIterator{s: s}
}

type memSorterIterator struct {
	s *MemSorter
	i int
}

func (it *memSorterIterator) Next() ([]byte, mdbkv.DiskLoc, bool) {
	if it.i >= len(it.s.pairs) {
		return nil, mdbkv.NullLoc, false
	}
	p := it.s.pairs[it.i]
	it.i++
	return p.key, p.loc, true
}
