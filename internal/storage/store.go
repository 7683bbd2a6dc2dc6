// store.go - LevelDB key/value store with CBOR-encoded values.
package storage

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	memstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("storage: not found")
	// ErrExists is returned by Create when one of the keys is already present.
	ErrExists = errors.New("storage: already exists")
)

// Store persists CBOR-encoded values in LevelDB.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMemory returns a store that lives only in memory.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(memstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get decodes the value stored at key into v.
func (s *Store) Get(key string, v interface{}) error {
	raw, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := cbor.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Has reports whether key is present.
func (s *Store) Has(key string) (bool, error) {
	return s.db.Has([]byte(key), nil)
}

// Batch collects writes applied atomically by Write.
type Batch struct {
	b    leveldb.Batch
	keys []string
	err  error
}

// Put encodes v and queues it under key. Encoding errors are reported by Write.
func (b *Batch) Put(key string, v interface{}) {
	if b.err != nil {
		return
	}
	raw, err := cbor.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("encode %s: %w", key, err)
		return
	}
	b.b.Put([]byte(key), raw)
	b.keys = append(b.keys, key)
}

// Delete queues removal of key.
func (b *Batch) Delete(key string) {
	b.b.Delete([]byte(key))
}

// Write applies the batch atomically and syncs it to disk.
func (s *Store) Write(b *Batch) error {
	if b.err != nil {
		return b.err
	}
	if err := s.db.Write(&b.b, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// Create writes the batch only if none of its keys exist yet.
// Callers serialize Create themselves; LevelDB offers no compare-and-set.
func (s *Store) Create(b *Batch) error {
	if b.err != nil {
		return b.err
	}
	for _, key := range b.keys {
		ok, err := s.Has(key)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		if ok {
			return fmt.Errorf("%w: %s", ErrExists, key)
		}
	}
	return s.Write(b)
}
