package mdbkv

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/bmatsuo/lmdb-go/lmdb"
)

// Stat reports page counts and entry counts, for the whole environment
// or for one database.
type Stat = lmdb.Stat

// EnvInfo reports map size and reader table information.
type EnvInfo = lmdb.EnvInfo

type Options struct {
	// MapSize caps the memory map. Defaults to 1 GiB (64 MiB when
	// IsTesting); raising it later requires reopening the environment.
	MapSize    int64
	MaxDBs     int
	MaxReaders int

	// NoSubdir makes path name the data file itself rather than a
	// directory holding it.
	NoSubdir bool
	// NoTLS unties reader slots from OS threads; required when read
	// transactions migrate between goroutines.
	NoTLS bool
	// WriteMap uses a writable memory map instead of malloc+write.
	WriteMap bool
	ReadOnly bool
	NoSync   bool

	Mode os.FileMode
	Logf func(format string, args ...any)

	IsTesting bool
}

// Env owns one database file: its memory map, free list and reader
// table. It is shared across threads; open it once at process start and
// Close it at shutdown after every transaction is finished.
type Env struct {
	env  *lmdb.Env
	path string
	logf func(format string, args ...any)

	ReaderCount atomic.Int64
	WriterCount atomic.Int64
	ReadCount   atomic.Uint64
	WriteCount  atomic.Uint64
}

// Open creates or opens the environment at path.
func Open(path string, opt Options) (*Env, error) {
	lenv, err := lmdb.NewEnv()
	if err != nil {
		return nil, opErr("create env", err)
	}

	if opt.MapSize == 0 {
		if opt.IsTesting {
			opt.MapSize = 64 * 1024 * 1024
		} else {
			opt.MapSize = 1024 * 1024 * 1024
		}
	}
	if opt.MaxDBs == 0 {
		opt.MaxDBs = 64
	}
	if opt.MaxReaders == 0 {
		opt.MaxReaders = 126
	}
	if opt.Mode == 0 {
		opt.Mode = 0660
	}
	if opt.IsTesting {
		opt.NoSync = true
	}

	if err := lenv.SetMapSize(opt.MapSize); err != nil {
		return nil, opErr("set map size", err)
	}
	if err := lenv.SetMaxDBs(opt.MaxDBs); err != nil {
		return nil, opErr("set max DBs", err)
	}
	if err := lenv.SetMaxReaders(opt.MaxReaders); err != nil {
		return nil, opErr("set max readers", err)
	}

	var flags uint
	if opt.NoSubdir {
		flags |= lmdb.NoSubdir
	}
	if opt.NoTLS {
		flags |= lmdb.NoTLS
	}
	if opt.WriteMap {
		flags |= lmdb.WriteMap
	}
	if opt.ReadOnly {
		flags |= lmdb.Readonly
	}
	if opt.NoSync {
		flags |= lmdb.NoSync
	}

	err = lenv.Open(path, flags, opt.Mode)
	if err != nil {
		lenv.Close()
		return nil, opErrf(err, "open env %s", path)
	}

	return &Env{
		env:  lenv,
		path: path,
		logf: opt.Logf,
	}, nil
}

func (e *Env) Path() string {
	return e.path
}

func (e *Env) Stat() (*Stat, error) {
	st, err := e.env.Stat()
	return st, opErr("env stat", err)
}

func (e *Env) Info() (*EnvInfo, error) {
	info, err := e.env.Info()
	return info, opErr("env info", err)
}

// Sync flushes the data file. With force, flushes even when the
// environment was opened with NoSync.
func (e *Env) Sync(force bool) error {
	return opErr("sync", e.env.Sync(force))
}

// ReaderCheck clears reader table slots held by dead processes and
// returns the number of slots reclaimed.
func (e *Env) ReaderCheck() (int, error) {
	n, err := e.env.ReaderCheck()
	return n, opErr("reader check", err)
}

func (e *Env) Close() {
	err := e.env.Close()
	if err != nil {
		panic(fmt.Errorf("mdbkv: closing env: %w", err))
	}
}

func (e *Env) logErrf(format string, args ...any) {
	if e.logf != nil {
		e.logf(format, args...)
	}
}
