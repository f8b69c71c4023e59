package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const bitsPerKey = 10

// Disk represents the leveldb implementation for reading and storing the
// blockchain data on disk. This implements the KVStore interface.
type Disk struct {
	db      *leveldb.DB
	dbPath  string
	rebuilt bool
}

// NewDisk opens the leveldb database at dbPath. A corrupted database is
// recovered first. If recovery fails the directory is deleted and the
// database is created again from scratch.
func NewDisk(dbPath string) (*Disk, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	o := opt.Options{
		Filter: filter.NewBloomFilter(bitsPerKey),
	}

	db, err := leveldb.OpenFile(dbPath, &o)

	var corrupted *lerrors.ErrCorrupted
	if errors.As(err, &corrupted) {
		db, err = leveldb.RecoverFile(dbPath, &o)
	}

	var rebuilt bool
	if err != nil {
		if rmErr := os.RemoveAll(dbPath); rmErr != nil {
			return nil, fmt.Errorf("remove corrupted db: %w", rmErr)
		}

		db, err = leveldb.OpenFile(dbPath, &o)
		if err != nil {
			return nil, fmt.Errorf("rebuild db: %w", err)
		}
		rebuilt = true
	}

	return &Disk{db: db, dbPath: dbPath, rebuilt: rebuilt}, nil
}

// Rebuilt reports whether the database had to be deleted and created again
// when it was opened.
func (d *Disk) Rebuilt() bool {
	return d.rebuilt
}

// Close closes the leveldb database.
func (d *Disk) Close() error {
	return d.db.Close()
}

// Get returns the value for the key or ErrNotFound.
func (d *Disk) Get(key []byte) ([]byte, error) {
	data, err := d.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return data, nil
}

// Has reports whether the key exists.
func (d *Disk) Has(key []byte) (bool, error) {
	return d.db.Has(key, nil)
}

// Put stores the value under the key.
func (d *Disk) Put(key []byte, value []byte) error {
	return d.db.Put(key, value, nil)
}

// Delete removes the key.
func (d *Disk) Delete(key []byte) error {
	return d.db.Delete(key, nil)
}

// NewBatch constructs a leveldb write batch.
func (d *Disk) NewBatch() Batch {
	return &diskBatch{db: d.db, batch: new(leveldb.Batch)}
}

// NewIterator walks every key that starts with prefix.
func (d *Disk) NewIterator(prefix []byte) Iterator {
	return &diskIterator{iter: d.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

// =============================================================================

type diskBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *diskBatch) Put(key []byte, value []byte) { b.batch.Put(key, value) }
func (b *diskBatch) Delete(key []byte)            { b.batch.Delete(key) }
func (b *diskBatch) Len() int                     { return b.batch.Len() }

func (b *diskBatch) Write() error {
	if err := b.db.Write(b.batch, nil); err != nil {
		return err
	}
	b.batch.Reset()
	return nil
}

// diskIterator copies keys and values since leveldb reuses the buffers.
type diskIterator struct {
	iter iterator.Iterator
}

func (it *diskIterator) Next() bool    { return it.iter.Next() }
func (it *diskIterator) Key() []byte   { return append([]byte(nil), it.iter.Key()...) }
func (it *diskIterator) Value() []byte { return append([]byte(nil), it.iter.Value()...) }
func (it *diskIterator) Error() error  { return it.iter.Error() }
func (it *diskIterator) Release()      { it.iter.Release() }
