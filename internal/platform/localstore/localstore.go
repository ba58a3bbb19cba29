// Package localstore provides the on-device durable store backing the
// privacy budget and the audit log.
//
// It wraps BadgerDB for low-latency embedded persistence with synchronous
// writes, and seals every value with XChaCha20-Poly1305 before it touches
// disk. The pipeline treats this store as a scoped acquisition: a confirmed
// write is durable, and nothing stored here ever leaves the device.
package localstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/chacha20poly1305"

	"veil/pkg/platform/sentinel"
)

// Config holds configuration for a local store instance.
type Config struct {
	// Path is the directory for the database files. Ignored when InMemory.
	Path string
	// InMemory enables in-memory mode, for tests.
	InMemory bool
	// SyncWrites forces an fsync per write. Required in production: the
	// budget debit must be on disk before the epsilon counts as spent.
	SyncWrites bool
	// Key is the 32-byte at-rest encryption key.
	Key []byte
	// Logger, when set, receives store-level logs.
	Logger *slog.Logger
}

// DefaultConfig returns the production configuration for a given directory.
func DefaultConfig(path string, key []byte) Config {
	return Config{Path: path, SyncWrites: true, Key: key}
}

// InMemoryConfig returns a disk-free configuration for tests.
func InMemoryConfig(key []byte) Config {
	return Config{InMemory: true, Key: key}
}

// DB is an encrypted key-value store.
type DB struct {
	db   *badger.DB
	aead cipher.AEAD
}

// Open opens the store, creating it if needed.
func Open(cfg Config) (*DB, error) {
	if len(cfg.Key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("localstore: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(cfg.Key))
	}
	aead, err := chacha20poly1305.NewX(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("localstore: init cipher: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("localstore: open: %w", err)
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("local store opened", "path", cfg.Path, "in_memory", cfg.InMemory, "sync_writes", cfg.SyncWrites)
	}
	return &DB{db: db, aead: aead}, nil
}

// Close flushes and closes the underlying database.
func (s *DB) Close() error {
	return s.db.Close()
}

// Put seals and durably writes a value. The call returns only after the
// write is committed.
func (s *DB) Put(_ context.Context, key, value []byte) error {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("localstore: nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, value, key)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, sealed)
	})
}

// Get reads and opens a value. Returns sentinel.ErrNotFound for absent keys.
func (s *DB) Get(_ context.Context, key []byte) ([]byte, error) {
	var plaintext []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(sealed []byte) error {
			plaintext, err = s.open(key, sealed)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// IteratePrefix walks all keys with the given prefix, newest key last when
// reverse is false. The callback receives decrypted values; returning an
// error stops the walk.
func (s *DB) IteratePrefix(_ context.Context, prefix []byte, reverse bool, fn func(key, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if reverse {
			// Badger reverse iteration seeks to the last key under prefix.
			seek = append(append([]byte{}, prefix...), 0xFF)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			var cbErr error
			err := item.Value(func(sealed []byte) error {
				value, err := s.open(key, sealed)
				if err != nil {
					return err
				}
				cbErr = fn(key, value)
				return nil
			})
			if err != nil {
				return err
			}
			if cbErr != nil {
				return cbErr
			}
		}
		return nil
	})
}

func (s *DB) open(key, sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("localstore: sealed value too short")
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, key)
	if err != nil {
		return nil, fmt.Errorf("localstore: decrypt: %w", err)
	}
	return plaintext, nil
}
