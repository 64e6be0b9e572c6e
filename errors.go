package mdbkv

import (
	"fmt"

	"github.com/bmatsuo/lmdb-go/lmdb"
)

// Error wraps a storage engine failure with the operation that hit it.
// The underlying engine error (and its numeric code) is preserved and
// can be matched with the Is* helpers below.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	return fmt.Sprintf("mdbkv: %s: %v", e.Op, e.Err)
}

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

func opErrf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Op: fmt.Sprintf(format, args...), Err: err}
}

// IsKeyExist reports whether err is the engine's uniqueness rejection
// (a put with NoOverwrite hit an existing key, or NoDupData hit an
// existing key-value pair).
func IsKeyExist(err error) bool {
	return lmdb.IsErrno(err, lmdb.KeyExist)
}

// IsMapFull reports whether the environment's memory map is exhausted.
func IsMapFull(err error) bool {
	return lmdb.IsMapFull(err)
}

// IsReadersFull reports whether the reader table is exhausted.
func IsReadersFull(err error) bool {
	return lmdb.IsErrno(err, lmdb.ReadersFull)
}

// IsTxnFull reports whether the write transaction has too many dirty pages.
func IsTxnFull(err error) bool {
	return lmdb.IsErrno(err, lmdb.TxnFull)
}

// IsKeyTooBig reports whether the engine rejected an oversized key or
// a bad fixed-size duplicate value.
func IsKeyTooBig(err error) bool {
	return lmdb.IsErrno(err, lmdb.BadValSize)
}

// IsCorrupted reports whether the engine detected a damaged page.
func IsCorrupted(err error) bool {
	return lmdb.IsErrno(err, lmdb.Corrupted) || lmdb.IsErrno(err, lmdb.PageNotFound)
}

// DataError describes a malformed or unexpectedly sized piece of stored
// data. The offending bytes are included in the message, elided in the
// middle when long.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}
