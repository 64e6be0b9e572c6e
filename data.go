package mdbkv

import "encoding/binary"

// Data is a (pointer, length) view over key or value bytes. Views
// returned by the façade point into the store's memory map and obey the
// lifetime contract described in the package documentation; Data built
// by the *Data constructors is ordinary owned memory.
//
// Fixed-width integer codecs use raw little-endian memory so that keys
// stored in IntegerKey databases and locators stored in IntegerDup
// databases match the engine's native integer layout. Decoders panic
// with a *DataError when the view length does not match the type; a
// wrong-sized integer view means the database is corrupted or was
// opened with the wrong codec, both fatal.
type Data []byte

func BytesData(b []byte) Data { return Data(b) }

func StringData(s string) Data { return Data(s) }

func Uint32Data(v uint32) Data {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func Uint64Data(v uint64) Data {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func LocData(l DiskLoc) Data {
	return Uint64Data(uint64(l))
}

func (d Data) Bytes() []byte { return []byte(d) }

func (d Data) String() string { return string(d) }

func (d Data) Uint32() uint32 {
	if len(d) != 4 {
		panic(dataErrf(d, 0, nil, "uint32 view has %d bytes, wanted 4", len(d)))
	}
	return binary.LittleEndian.Uint32(d)
}

func (d Data) Uint64() uint64 {
	if len(d) != 8 {
		panic(dataErrf(d, 0, nil, "uint64 view has %d bytes, wanted 8", len(d)))
	}
	return binary.LittleEndian.Uint64(d)
}

func (d Data) Loc() DiskLoc {
	if len(d) != 8 {
		panic(dataErrf(d, 0, nil, "locator view has %d bytes, wanted 8", len(d)))
	}
	return DiskLoc(binary.LittleEndian.Uint64(d))
}

// Clone materializes an owned copy of the view. Required before the
// view's transaction performs another mutation or ends.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	copy(out, d)
	return out
}
