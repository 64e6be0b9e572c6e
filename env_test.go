package mdbkv

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func setup(t testing.TB) *Env {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data")
	env := must(Open(path, Options{
		NoSubdir:  true,
		NoTLS:     true,
		IsTesting: true,
	}))
	t.Cleanup(env.Close)
	return env
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func createDB(t testing.TB, env *Env, name string, flags uint) DB {
	t.Helper()
	var db DB
	ensure(env.Update(func(tx *Tx) error {
		var err error
		db, err = OpenDB(tx, name, flags|Create)
		return err
	}))
	return db
}

func TestEnvOpen(t *testing.T) {
	env := setup(t)

	info := must(env.Info())
	if info.MapSize <= 0 {
		t.Fatalf("Info().MapSize = %d, wanted > 0", info.MapSize)
	}

	st := must(env.Stat())
	if st.Entries != 0 {
		t.Fatalf("Stat().Entries = %d, wanted 0 in a fresh env", st.Entries)
	}

	ensure(env.Sync(true))
}

func TestEnvOpenFails(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "deeper", "data"), Options{
		NoSubdir:  true,
		IsTesting: true,
	})
	if err == nil {
		t.Fatalf("Open of an impossible path succeeded, wanted error")
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("Open error = %T %v, wanted *Error", err, err)
	}
}

func TestEnvCounters(t *testing.T) {
	env := setup(t)
	db := createDB(t, env, "c", 0)

	before := env.WriteCount.Load()
	ensure(env.Update(func(tx *Tx) error {
		return db.Put(tx, StringData("k"), StringData("v"), 0)
	}))
	if got := env.WriteCount.Load(); got != before+1 {
		t.Fatalf("WriteCount = %d, wanted %d", got, before+1)
	}

	if got := env.ReaderCount.Load(); got != 0 {
		t.Fatalf("ReaderCount = %d, wanted 0 outside transactions", got)
	}
}
