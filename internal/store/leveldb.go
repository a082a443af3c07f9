// Package store wraps the LevelDB instance shared by the reputation
// event ledger and the DAG block/UTXO store, so both keep their
// durable state in the same on-disk database under distinct key
// prefixes rather than opening separate files.
package store

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var ErrNotFound = errors.New("store: key not found")

// DB is a thin wrapper over a LevelDB handle.
type DB struct {
	conn *leveldb.DB
}

// Open opens (or creates) the LevelDB database at path.
func Open(path string) (*DB, error) {
	conn, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &DB{conn: conn}, nil
}

// OpenInMemory opens a transient database, for tests and single-run
// tools that don't need the state to survive a restart.
func OpenInMemory() (*DB, error) {
	conn, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &DB{conn: conn}, nil
}

func (d *DB) Close() error { return d.conn.Close() }

func (d *DB) Put(key, value []byte) error {
	return d.conn.Put(key, value, nil)
}

func (d *DB) Get(key []byte) ([]byte, error) {
	v, err := d.conn.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (d *DB) Has(key []byte) (bool, error) {
	return d.conn.Has(key, nil)
}

func (d *DB) Delete(key []byte) error {
	return d.conn.Delete(key, nil)
}

// Batch groups writes into a single atomic LevelDB batch.
type Batch struct {
	b *leveldb.Batch
}

func NewBatch() *Batch {
	return &Batch{b: new(leveldb.Batch)}
}

func (b *Batch) Put(key, value []byte) { b.b.Put(key, value) }
func (b *Batch) Delete(key []byte)     { b.b.Delete(key) }

func (d *DB) WriteBatch(b *Batch) error {
	return d.conn.Write(b.b, nil)
}

// IteratePrefix returns an iterator over every key carrying the given
// prefix, for a keyspace-scoped scan (e.g. all reputation events for
// one participant, or all blocks in one ancestry index).
func (d *DB) IteratePrefix(prefix []byte) iterator.Iterator {
	return d.conn.NewIterator(util.BytesPrefix(prefix), nil)
}
