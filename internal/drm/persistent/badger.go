// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package persistent

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStorage keeps the index under one key of a Badger database.
type BadgerStorage struct {
	db  *badger.DB
	key []byte
}

func OpenBadgerStorage(path, name string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStorage{db: db, key: []byte("idx:" + name)}, nil
}

func (b *BadgerStorage) Load() ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return out, err
}

func (b *BadgerStorage) Save(data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key, data)
	})
}

func (b *BadgerStorage) Close() error { return b.db.Close() }
