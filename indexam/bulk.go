package indexam

import (
	"bytes"
	"context"
	"fmt"

	"github.com/openkv/mdbkv"
	"github.com/openkv/mdbkv/storage"
)

// interruptCheckInterval is how many sorted pairs a bulk commit streams
// between cancellation polls.
const interruptCheckInterval = 128

// Bulk accumulates the (key, locator) pairs of a bulk index build in an
// external sorter. Insert feeds the sorter; the access method's
// CommitBulk streams the sorted pairs into the index.
type Bulk struct {
	am     *AccessMethod
	sorter storage.Sorter
	nkeys  int64
	multi  bool
}

var _ storage.BulkBuilder = (*Bulk)(nil)

// InitiateBulk returns a bulk builder for this index. Only permitted
// while the index is empty.
func (am *AccessMethod) InitiateBulk(stx storage.Tx) (storage.BulkBuilder, error) {
	st, err := am.db.Stat(stx.KV)
	if err != nil {
		return nil, err
	}
	if st.Entries > 0 {
		return nil, opIllegal("bulk build requires an empty index")
	}
	return &Bulk{am: am, sorter: am.NewSorter()}, nil
}

// Insert extracts doc's keys and emits each (key, loc) pair into the
// sorter. Returns the key count.
func (b *Bulk) Insert(doc mdbkv.Document, loc mdbkv.DiskLoc) (int, error) {
	keys, err := storage.GetKeys(b.am.entry.Descriptor(), doc)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := b.sorter.Add(key, loc); err != nil {
			return 0, err
		}
	}
	if len(keys) > 1 {
		b.multi = true
	}
	b.nkeys += int64(len(keys))
	return len(keys), nil
}

// CommitBulk re-checks the empty precondition, sorts, and streams the
// builder's pairs into the index. On a unique index a repeated key
// either fails with DuplicateKey or, when the descriptor has DropDups
// set, records the later locator in opts.DupsToDrop (bounded) and skips
// it. Cancellation is polled between items; a done ctx aborts the
// stream cleanly.
func (am *AccessMethod) CommitBulk(ctx context.Context, stx storage.Tx, bulk storage.BulkBuilder, opts storage.CommitBulkOptions) error {
	tx := stx.KV
	b, ok := bulk.(*Bulk)
	if !ok || b.am != am {
		return fmt.Errorf("%w: bulk builder belongs to a different index", errInternal)
	}

	st, err := am.db.Stat(tx)
	if err != nil {
		return err
	}
	if st.Entries > 0 {
		return fmt.Errorf("%w: trying to commit, but has data already", errInternal)
	}

	d := am.entry.Descriptor()
	dupsAllowed := !d.Unique
	dropDups := d.DropDups
	if dropDups && opts.DupsToDrop == nil {
		return fmt.Errorf("%w: dropDups build without a dups set", errInternal)
	}

	if b.multi {
		am.entry.SetMultikey()
	}

	if err := b.sorter.Sort(); err != nil {
		return err
	}

	cur, err := mdbkv.OpenCursor(tx, am.db)
	if err != nil {
		return err
	}
	defer cur.Close()

	flags := am.putFlags(dupsAllowed)
	it := b.sorter.Iter()
	var lastKey []byte
	first := true
	var done int64
	for {
		key, loc, ok := it.Next()
		if !ok {
			break
		}
		if done%interruptCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("index bulk build interrupted: %w", err)
			}
		}

		matchesLast := !first && bytes.Equal(key, lastKey)
		first = false
		lastKey = append(lastKey[:0], key...)

		if matchesLast && !dupsAllowed {
			if dropDups {
				// Dups are normally rare, so they stay in RAM with a cap
				// rather than spilling to disk.
				if err := opts.DupsToDrop.Add(loc); err != nil {
					return err
				}
				continue
			}
			return am.dupKeyError(key)
		}

		if err := cur.Put(key, mdbkv.LocData(loc), flags); err != nil {
			if mdbkv.IsKeyExist(err) {
				return am.dupKeyError(key)
			}
			return err
		}

		done++
		if opts.Progress != nil && done%interruptCheckInterval == 0 {
			opts.Progress(done)
		}
	}
	if opts.Progress != nil {
		opts.Progress(done)
	}
	return nil
}
