// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package threatintel

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("reputation store is closed")

// Store is the BadgerDB-backed reputation cache. Entries carry the cache
// TTL and are never returned past expiry; Badger drops them on compaction
// and Get double-checks ExpiresAt in between.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// NewStore opens the reputation cache.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening reputation cache: %w", err)
	}
	return &Store{db: db, ttl: cfg.TTL}, nil
}

func storeKey(kind IndicatorKind, subject string) []byte {
	return []byte(string(kind) + ":" + subject)
}

// Put caches an indicator with the store TTL, stamping ObservedAt and
// ExpiresAt.
func (s *Store) Put(ind *Indicator) error {
	now := time.Now()
	ind.ObservedAt = now
	ind.ExpiresAt = now.Add(s.ttl)

	data, err := json.Marshal(ind)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(storeKey(ind.Kind, ind.Subject), data).WithTTL(s.ttl)
		return txn.SetEntry(e)
	})
}

// Get returns the cached indicator for a subject, or nil when absent or
// expired.
func (s *Store) Get(kind IndicatorKind, subject string) (*Indicator, error) {
	var ind *Indicator

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(kind, subject))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded Indicator
			if err := json.Unmarshal(val, &decoded); err != nil {
				return err
			}
			if time.Now().Before(decoded.ExpiresAt) {
				ind = &decoded
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ind, nil
}

// ForEach visits every live cached indicator.
func (s *Store) ForEach(fn func(ind *Indicator)) error {
	now := time.Now()
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var ind Indicator
				if err := json.Unmarshal(val, &ind); err != nil {
					return nil // skip undecodable entries
				}
				if now.Before(ind.ExpiresAt) {
					fn(&ind)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of live cached indicators.
func (s *Store) Count() (int, error) {
	count := 0
	err := s.ForEach(func(*Indicator) { count++ })
	return count, err
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
