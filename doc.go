/*
Package mdbkv wraps a memory-mapped B+tree key-value store (LMDB) with
typed environments, transactions, databases and cursors, and builds a
document-oriented storage engine on top of it.

We implement:

1. A key-value façade: environments, read/write transactions (including
nested write transactions), named databases with optional duplicate
values, and cursors with zero-copy key/value views.

2. Typed data codecs for byte strings, fixed-width integers, record
locators, documents and order-preserving index keys.

3. On top of the façade (in subpackages): a secondary-index access
method, a record store keyed by monotonically assigned 32-bit ids with
capped-collection eviction, and a legacy-path backend over Bolt selected
per collection by a catalog flag.

# Technical Details

**Views.**
Key and value views returned by cursors and Get are slices into the
store's memory map. They are valid only until the next mutation on the
same transaction or the end of the transaction, whichever comes first.
Callers that need data past that point must Clone it. Views must never
be written to, except for the region returned by a Reserve put.

**Not-found.**
The façade never reports a missing key as an error. Lookups return an
absence indicator (a nil *KV from cursors, a false from Get/HasKey/Del)
and reserve errors for actual engine failures.

**Transactions.**
At most one write transaction exists at a time; the engine serializes
writers. A write transaction may nest under a parent write transaction;
the child's writes become visible to the parent on Commit and are
discarded wholesale if the parent aborts. Read transactions hold an MVCC
snapshot and support a Reset/Renew cycle that trades the snapshot for a
fresh one without giving up the reader slot.

**Index key encoding.**
The engine's Go bindings do not expose custom comparators, so index key
order is baked into an order-preserving tuple encoding instead: the
encoded bytes compare under the default bytewise comparator exactly the
way the decoded field values compare under the index ordering spec.
Descending fields are stored bit-inverted.
*/
package mdbkv
