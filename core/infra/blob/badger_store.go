package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const (
	dataPrefix = "blob:"
	metaPrefix = "meta:"
)

// BadgerStore implements Store on an embedded Badger database. Each blob
// occupies two keys: the raw bytes under dataPrefix and a small JSON
// metadata record under metaPrefix, written in one transaction.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the store at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	meta := Metadata{Size: int64(len(data)), ContentType: contentType}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataPrefix+key), data); err != nil {
			return err
		}
		return txn.Set([]byte(metaPrefix+key), metaRaw)
	})
}

func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, Metadata, error) {
	var data []byte
	var meta Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dataPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		meta, _ = readMeta(txn, key)
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, Metadata{}, ErrNotFound
	}
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("read blob %s: %w", key, err)
	}
	if meta.Size == 0 {
		meta.Size = int64(len(data))
	}
	return data, meta, nil
}

func (s *BadgerStore) Stat(ctx context.Context, key string) (Metadata, error) {
	var meta Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		m, err := readMeta(txn, key)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("stat blob %s: %w", key, err)
	}
	return meta, nil
}

func (s *BadgerStore) Has(ctx context.Context, key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(dataPrefix + key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check blob %s: %w", key, err)
	}
	return true, nil
}

func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(dataPrefix + key)); err != nil {
			return err
		}
		return txn.Delete([]byte(metaPrefix + key))
	})
}

// Keys lists every stored canonical key, sorted.
func (s *BadgerStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(dataPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), dataPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close syncs and closes the database.
func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func readMeta(txn *badger.Txn, key string) (Metadata, error) {
	item, err := txn.Get([]byte(metaPrefix + key))
	if err != nil {
		return Metadata{}, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}
