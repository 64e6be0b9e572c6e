package mdbkv

import "fmt"

// DiskLoc is a compact record locator: a 32-bit collection number in the
// high half and a 32-bit record id in the low half. It is opaque to
// indexes but compares numerically, which is also how the engine orders
// locator values stored as integer duplicates under an index key.
type DiskLoc uint64

// NullLoc is the absent locator.
const NullLoc DiskLoc = 1<<64 - 1

func MakeLoc(collection, id uint32) DiskLoc {
	return DiskLoc(uint64(collection)<<32 | uint64(id))
}

func (l DiskLoc) Collection() uint32 { return uint32(l >> 32) }

func (l DiskLoc) ID() uint32 { return uint32(l) }

func (l DiskLoc) IsNull() bool { return l == NullLoc }

func (l DiskLoc) String() string {
	if l.IsNull() {
		return "null"
	}
	return fmt.Sprintf("%d:%d", l.Collection(), l.ID())
}
