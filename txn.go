package mdbkv

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/bmatsuo/lmdb-go/lmdb"
)

// ErrIllegalOperation reports misuse of an API whose preconditions the
// caller violated (resetting a write transaction, saving a cursor
// position at EOF, bulk-loading a non-empty index).
var ErrIllegalOperation = errors.New("illegal operation")

var errTxnFinished = errors.New("transaction already committed or aborted")

// Tx is a transaction over an Env. A transaction is owned exclusively
// by the goroutine that began it for its whole lifetime. Unmanaged
// transactions come from BeginRead/BeginWrite and must end in exactly
// one Commit or Abort; Abort is safe to defer unconditionally since it
// is a no-op after Commit. Managed transactions are passed to View and
// Update callbacks and end when the callback returns.
type Tx struct {
	env     *Env
	txn     *lmdb.Txn
	write   bool
	managed bool
	parent  *Tx
	done    bool
	locked  bool
}

// BeginRead starts a read-only transaction holding a stable MVCC
// snapshot from this moment.
func (e *Env) BeginRead() (*Tx, error) {
	ltxn, err := e.env.BeginTxn(nil, lmdb.Readonly)
	if err != nil {
		return nil, opErr("begin read txn", err)
	}
	ltxn.RawRead = true
	e.ReaderCount.Add(1)
	return &Tx{env: e, txn: ltxn}, nil
}

// BeginWrite starts a write transaction. With parent == nil it blocks
// until the single writer lock is available and pins the calling
// goroutine to its OS thread until the transaction ends (an engine
// requirement for writers). With a parent, it begins a nested write
// transaction whose writes become visible to the parent on Commit; the
// nested transaction must run on the parent's thread.
func (e *Env) BeginWrite(parent *Tx) (*Tx, error) {
	var ltxn *lmdb.Txn
	var err error
	locked := false
	if parent == nil {
		runtime.LockOSThread()
		locked = true
		ltxn, err = e.env.BeginTxn(nil, 0)
	} else {
		if !parent.write {
			return nil, opErr("begin nested txn", errors.New("parent must be a write transaction"))
		}
		if parent.done {
			return nil, opErr("begin nested txn", errTxnFinished)
		}
		ltxn, err = e.env.BeginTxn(parent.txn, 0)
	}
	if err != nil {
		if locked {
			runtime.UnlockOSThread()
		}
		return nil, opErr("begin write txn", err)
	}
	ltxn.RawRead = true
	e.WriterCount.Add(1)
	return &Tx{env: e, txn: ltxn, write: true, parent: parent, locked: locked}, nil
}

// View runs fn in a managed read-only transaction.
func (e *Env) View(fn func(tx *Tx) error) error {
	e.ReaderCount.Add(1)
	defer e.ReaderCount.Add(-1)
	return e.env.View(func(ltxn *lmdb.Txn) error {
		ltxn.RawRead = true
		return fn(&Tx{env: e, txn: ltxn, managed: true})
	})
}

// Update runs fn in a managed write transaction, committing on nil
// return and aborting on error. A panic inside fn aborts the
// transaction and comes back as an error carrying the stack trace.
func (e *Env) Update(fn func(tx *Tx) error) error {
	e.WriterCount.Add(1)
	defer e.WriterCount.Add(-1)
	return e.env.Update(func(ltxn *lmdb.Txn) error {
		ltxn.RawRead = true
		return safelyCall(fn, &Tx{env: e, txn: ltxn, write: true, managed: true})
	})
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

func (tx *Tx) Env() *Env {
	return tx.env
}

func (tx *Tx) IsWritable() bool {
	return tx.write
}

// Commit publishes the transaction's writes. For a nested transaction
// this makes them visible to the parent only; for a read transaction it
// just returns the reader slot.
func (tx *Tx) Commit() error {
	if tx.managed {
		panic("mdbkv: cannot commit a managed transaction")
	}
	if tx.done {
		return opErr("commit txn", errTxnFinished)
	}
	tx.done = true
	err := tx.txn.Commit()
	tx.finish()
	if err == nil {
		metricTxnsCommitted.Inc()
	}
	return opErr("commit txn", err)
}

// Abort discards all writes made under this transaction and any
// uncommitted nested writes. Safe to call after Commit.
func (tx *Tx) Abort() {
	if tx.managed {
		panic("mdbkv: cannot abort a managed transaction")
	}
	if tx.done {
		return
	}
	tx.done = true
	tx.txn.Abort()
	tx.finish()
	metricTxnsAborted.Inc()
}

func (tx *Tx) finish() {
	if tx.write {
		tx.env.WriterCount.Add(-1)
	} else {
		tx.env.ReaderCount.Add(-1)
	}
	if tx.locked {
		runtime.UnlockOSThread()
	}
}

// Reset releases a read transaction's snapshot hold while keeping its
// reader slot; Renew then reacquires a fresh snapshot cheaply. A reset
// transaction must not be used until renewed.
func (tx *Tx) Reset() error {
	if tx.write {
		return opErr("reset txn", ErrIllegalOperation)
	}
	if tx.done {
		return opErr("reset txn", errTxnFinished)
	}
	tx.txn.Reset()
	return nil
}

func (tx *Tx) Renew() error {
	if tx.write {
		return opErr("renew txn", ErrIllegalOperation)
	}
	if tx.done {
		return opErr("renew txn", errTxnFinished)
	}
	return opErr("renew txn", tx.txn.Renew())
}
