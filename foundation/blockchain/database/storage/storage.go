// Package storage handles all the lower level support for reading and writing
// the key value data behind the block store, the account repository and the
// sync block queue.
package storage

import (
	"errors"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("storage: not found")

// KVStore interface represents the behavior required to be implemented by any
// package providing support for storing and reading the blockchain data.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	NewBatch() Batch
	NewIterator(prefix []byte) Iterator
	Close() error
}

// Batch collects writes that are applied to the store together.
type Batch interface {
	Put(key []byte, value []byte)
	Delete(key []byte)
	Len() int
	Write() error
}

// Iterator interface represents the behavior required to walk a range of
// keys in ascending order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// =============================================================================

// Table scopes every key of a store under a prefix so several components can
// share one underlying database.
type Table struct {
	kv     KVStore
	prefix []byte
}

// NewTable constructs a prefixed view of the store.
func NewTable(kv KVStore, prefix string) *Table {
	return &Table{kv: kv, prefix: []byte(prefix)}
}

// Get returns the value for the key.
func (t *Table) Get(key []byte) ([]byte, error) {
	return t.kv.Get(t.key(key))
}

// Has reports whether the key exists.
func (t *Table) Has(key []byte) (bool, error) {
	return t.kv.Has(t.key(key))
}

// Put stores the value under the key.
func (t *Table) Put(key []byte, value []byte) error {
	return t.kv.Put(t.key(key), value)
}

// Delete removes the key.
func (t *Table) Delete(key []byte) error {
	return t.kv.Delete(t.key(key))
}

// NewBatch returns a batch that writes under the table prefix.
func (t *Table) NewBatch() Batch {
	return &tableBatch{batch: t.kv.NewBatch(), table: t}
}

// NewIterator walks the keys of the table that start with prefix. The keys
// returned do not include the table prefix.
func (t *Table) NewIterator(prefix []byte) Iterator {
	return &tableIterator{iter: t.kv.NewIterator(t.key(prefix)), strip: len(t.prefix)}
}

// Close does nothing, the underlying store is owned by the caller.
func (t *Table) Close() error {
	return nil
}

func (t *Table) key(key []byte) []byte {
	k := make([]byte, 0, len(t.prefix)+len(key))
	k = append(k, t.prefix...)
	return append(k, key...)
}

type tableBatch struct {
	batch Batch
	table *Table
}

func (b *tableBatch) Put(key []byte, value []byte) { b.batch.Put(b.table.key(key), value) }
func (b *tableBatch) Delete(key []byte)            { b.batch.Delete(b.table.key(key)) }
func (b *tableBatch) Len() int                     { return b.batch.Len() }
func (b *tableBatch) Write() error                 { return b.batch.Write() }

type tableIterator struct {
	iter  Iterator
	strip int
}

func (it *tableIterator) Next() bool    { return it.iter.Next() }
func (it *tableIterator) Key() []byte   { return it.iter.Key()[it.strip:] }
func (it *tableIterator) Value() []byte { return it.iter.Value() }
func (it *tableIterator) Error() error  { return it.iter.Error() }
func (it *tableIterator) Release()      { it.iter.Release() }
