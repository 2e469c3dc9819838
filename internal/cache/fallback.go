// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/raydawg88/keeper/internal/logging"
)

// ErrNotFound is returned when no fallback copy exists for a key.
var ErrNotFound = errors.New("no fallback entry")

// FallbackStore persists the last good upstream response per endpoint/key
// in an embedded badger database, so degraded reads survive restarts.
// Values carry their write time in an 8-byte nanosecond prefix.
type FallbackStore struct {
	db *badger.DB
}

// NewFallbackStore opens (or creates) the store at path.
func NewFallbackStore(path string) (*FallbackStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{}).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open fallback store at %s: %w", path, err)
	}
	return &FallbackStore{db: db}, nil
}

// Put stores body under endpoint/key, stamped with at.
func (f *FallbackStore) Put(endpoint, key string, body []byte, at time.Time) error {
	val := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(val, uint64(at.UnixNano()))
	copy(val[8:], body)

	return f.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(endpoint, key), val)
	})
}

// Get returns the stored body and its write time, or ErrNotFound.
func (f *FallbackStore) Get(endpoint, key string) ([]byte, time.Time, error) {
	var body []byte
	var at time.Time

	err := f.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(endpoint, key))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(val) < 8 {
			return fmt.Errorf("corrupt fallback entry for %s/%s", endpoint, key)
		}
		at = time.Unix(0, int64(binary.BigEndian.Uint64(val[:8])))
		body = val[8:]
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return body, at, nil
}

// Close flushes and closes the underlying database.
func (f *FallbackStore) Close() error {
	return f.db.Close()
}

func storeKey(endpoint, key string) []byte {
	return []byte(endpoint + "\x00" + key)
}

// badgerLogger routes badger's internal logging through zerolog. Badger is
// chatty at info level during compaction, so that is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logging.Error().Msgf("badger: %s", trimNewline(format, args...))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logging.Warn().Msgf("badger: %s", trimNewline(format, args...))
}

func (badgerLogger) Infof(format string, args ...any) {
	logging.Debug().Msgf("badger: %s", trimNewline(format, args...))
}

func (badgerLogger) Debugf(format string, args ...any) {
	logging.Debug().Msgf("badger: %s", trimNewline(format, args...))
}

func trimNewline(format string, args ...any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
