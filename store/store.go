// store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

const (
	protectionPrefix = "protection:"
	defaultListKey   = "defaultlist"
)

// Store persists the bot's small operational state: which protections are
// enabled and the default rule-list shortcode for commands. It allows for
// easy swapping of the real database with a mock in tests.
type Store interface {
	IsProtectionEnabled(ctx context.Context, name string) (bool, error)
	SetProtectionEnabled(ctx context.Context, name string, enabled bool) error
	DefaultList(ctx context.Context) (string, error)
	SetDefaultList(ctx context.Context, shortcode string) error
	Close() error
}

// BadgerStore is the production implementation of Store backed by BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// badgerLogger adapts slog.Logger to be used as a logger for BadgerDB.
type badgerLogger struct {
	*slog.Logger
}

func (l *badgerLogger) Warningf(f string, v ...any) { l.Warn(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Errorf(f string, v ...any)   { l.Error(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Infof(f string, v ...any)    {}
func (l *badgerLogger) Debugf(f string, v ...any)   {}

// NewBadgerStore opens (creating if necessary) the database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)

	// Everything stored here is tiny; keep values in the LSM-tree rather
	// than the separate value log.
	opts.ValueThreshold = 1024
	opts.Logger = &badgerLogger{slog.Default()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// Close gracefully closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// IsProtectionEnabled reports whether the named protection was enabled.
// Only the key's existence matters; absent means disabled.
func (s *BadgerStore) IsProtectionEnabled(ctx context.Context, name string) (bool, error) {
	key := []byte(protectionPrefix + name)
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetProtectionEnabled records the protection's enabled flag.
func (s *BadgerStore) SetProtectionEnabled(ctx context.Context, name string, enabled bool) error {
	key := []byte(protectionPrefix + name)
	return s.db.Update(func(txn *badger.Txn) error {
		if !enabled {
			return txn.Delete(key)
		}
		return txn.SetEntry(badger.NewEntry(key, nil))
	})
}

// DefaultList returns the stored default rule-list shortcode, or the empty
// string when none has been set.
func (s *BadgerStore) DefaultList(ctx context.Context) (string, error) {
	var shortcode string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(defaultListKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			shortcode = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return shortcode, nil
}

// SetDefaultList stores the default rule-list shortcode.
func (s *BadgerStore) SetDefaultList(ctx context.Context, shortcode string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(defaultListKey), []byte(shortcode))
	})
}
