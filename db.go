package mdbkv

import (
	"errors"

	"github.com/bmatsuo/lmdb-go/lmdb"
)

// Database open flags. The flags given when a database is created are
// fixed for its life.
const (
	// Create makes Open create the database if missing.
	Create = lmdb.Create
	// DupSort allows multiple values per key, kept in value order.
	DupSort = lmdb.DupSort
	// DupFixed declares all duplicate values the same size (requires DupSort).
	DupFixed = lmdb.DupFixed
	// IntegerKey orders keys as native unsigned integers in raw
	// little-endian memory rather than bytewise.
	IntegerKey = lmdb.IntegerKey
	// IntegerDup orders duplicate values as native unsigned integers
	// (requires DupSort).
	IntegerDup = lmdb.IntegerDup
	// ReverseKey compares keys back to front.
	ReverseKey = lmdb.ReverseKey
)

// Put flags.
const (
	// NoOverwrite fails the put with a KeyExist error if the key exists.
	NoOverwrite = lmdb.NoOverwrite
	// NoDupData fails the put with a KeyExist error if the exact
	// key-value pair exists in a DupSort database.
	NoDupData = lmdb.NoDupData
	// Append asserts the key sorts after every existing key; the engine
	// takes a fast path that skips rebalancing.
	Append = lmdb.Append
	// AppendDup asserts the value sorts after every existing duplicate
	// of the key.
	AppendDup = lmdb.AppendDup
)

var errClosedDB = errors.New("database handle is not open")

// DB names a sub-tree of an environment. A handle opened under a
// transaction becomes usable in later transactions once that
// transaction commits, and then stays valid for the life of the Env
// unless dropped. Handles are shared across threads.
type DB struct {
	dbi  lmdb.DBI
	name string
	ok   bool
}

// OpenDB opens the named database, creating it when flags include
// Create. The database must exist otherwise.
func OpenDB(tx *Tx, name string, flags uint) (DB, error) {
	dbi, err := tx.txn.OpenDBI(name, flags)
	if err != nil {
		return DB{}, opErrf(err, "open db %s", name)
	}
	return DB{dbi: dbi, name: name, ok: true}, nil
}

// OpenDBIfExists opens the named database if present. Absence is not an
// error: it returns ok == false.
func OpenDBIfExists(tx *Tx, name string, flags uint) (DB, bool, error) {
	dbi, err := tx.txn.OpenDBI(name, flags&^lmdb.Create)
	if lmdb.IsNotFound(err) {
		return DB{}, false, nil
	}
	if err != nil {
		return DB{}, false, opErrf(err, "open db %s", name)
	}
	return DB{dbi: dbi, name: name, ok: true}, true, nil
}

func (db DB) Valid() bool { return db.ok }

func (db DB) Name() string { return db.name }

func (db DB) Stat(tx *Tx) (*Stat, error) {
	if !db.ok {
		return nil, opErr("db stat", errClosedDB)
	}
	st, err := tx.txn.Stat(db.dbi)
	return st, opErrf(err, "db stat %s", db.name)
}

// Empty deletes all pairs, keeping the database itself.
func (db DB) Empty(tx *Tx) error {
	if !db.ok {
		return opErr("empty db", errClosedDB)
	}
	return opErrf(tx.txn.Drop(db.dbi, false), "empty db %s", db.name)
}

// Drop deletes the database and its handle.
func (db *DB) Drop(tx *Tx) error {
	if !db.ok {
		return opErr("drop db", errClosedDB)
	}
	err := tx.txn.Drop(db.dbi, true)
	if err != nil {
		return opErrf(err, "drop db %s", db.name)
	}
	db.ok = false
	return nil
}

// Get returns a view of the value stored under key, or found == false.
func (db DB) Get(tx *Tx, key Data) (Data, bool, error) {
	if !db.ok {
		return nil, false, opErr("get", errClosedDB)
	}
	tx.env.ReadCount.Add(1)
	metricGets.Inc()
	v, err := tx.txn.Get(db.dbi, key)
	if lmdb.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, opErrf(err, "get %s", db.name)
	}
	return Data(v), true, nil
}

func (db DB) HasKey(tx *Tx, key Data) (bool, error) {
	_, found, err := db.Get(tx, key)
	return found, err
}

func (db DB) Put(tx *Tx, key, val Data, flags uint) error {
	if !db.ok {
		return opErr("put", errClosedDB)
	}
	tx.env.WriteCount.Add(1)
	metricPuts.Inc()
	err := tx.txn.Put(db.dbi, key, val, flags)
	if err != nil {
		return opErrf(err, "put %s", db.name)
	}
	return nil
}

// PutReserve allocates n bytes for key's value and returns the writable
// region for the caller to fill before the next database operation.
func (db DB) PutReserve(tx *Tx, key Data, n int, flags uint) (Data, error) {
	if !db.ok {
		return nil, opErr("put reserve", errClosedDB)
	}
	tx.env.WriteCount.Add(1)
	metricPuts.Inc()
	buf, err := tx.txn.PutReserve(db.dbi, key, n, flags)
	if err != nil {
		return nil, opErrf(err, "put reserve %s", db.name)
	}
	return Data(buf), nil
}

// Del removes key (and all its duplicates). Reports whether anything
// was deleted; absence is not an error.
func (db DB) Del(tx *Tx, key Data) (bool, error) {
	if !db.ok {
		return false, opErr("del", errClosedDB)
	}
	tx.env.WriteCount.Add(1)
	metricDeletes.Inc()
	err := tx.txn.Del(db.dbi, key, nil)
	if lmdb.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, opErrf(err, "del %s", db.name)
	}
	return true, nil
}

// DelValue removes one exact key-value pair from a DupSort database.
func (db DB) DelValue(tx *Tx, key, val Data) (bool, error) {
	if !db.ok {
		return false, opErr("del", errClosedDB)
	}
	tx.env.WriteCount.Add(1)
	metricDeletes.Inc()
	err := tx.txn.Del(db.dbi, key, val)
	if lmdb.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, opErrf(err, "del %s", db.name)
	}
	return true, nil
}
