// ABOUTME: Two-tier delivery dedup store for processed envelope IDs
// ABOUTME: Bloom filter for fast negatives, BadgerDB with TTL as the authority

package dedup

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dgraph-io/badger/v4"
)

// Default sizing and retention for the dedup store.
const (
	DefaultExpectedItems     = 1_000_000
	DefaultFalsePositiveRate = 0.001
	DefaultRetention         = 24 * time.Hour
)

const keyPrefix = "env:"

// Config holds configuration for the dedup store.
type Config struct {
	// Path to the database directory. Required unless InMemory is true.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// Retention is how long processed envelope IDs are remembered. Entries
	// past retention may be redelivered and reprocessed.
	Retention time.Duration

	// ExpectedItems sizes the Bloom filter.
	ExpectedItems uint

	// FalsePositiveRate for the Bloom filter. A false positive only costs a
	// BadgerDB read; it never drops a message by itself.
	FalsePositiveRate float64
}

func (c *Config) setDefaults() {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.ExpectedItems == 0 {
		c.ExpectedItems = DefaultExpectedItems
	}
	if c.FalsePositiveRate <= 0 {
		c.FalsePositiveRate = DefaultFalsePositiveRate
	}
}

// Store remembers which envelope IDs have already been processed so
// redelivered attempts can be dropped before the handler runs.
type Store struct {
	db     *badger.DB
	filter *bloom.BloomFilter
	mu     sync.Mutex // Protects writes to the filter
	config Config
}

// Open creates a dedup store with the given configuration.
func Open(cfg Config) (*Store, error) {
	cfg.setDefaults()

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup db: %w", err)
	}

	return &Store{
		db:     db,
		filter: bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate),
		config: cfg,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Seen reports whether the envelope ID has been marked processed. The Bloom
// filter answers definite negatives without touching disk; positives are
// confirmed against BadgerDB so a filter false positive never drops a message.
func (s *Store) Seen(envelopeID string) (bool, error) {
	if envelopeID == "" {
		return false, nil
	}

	s.mu.Lock()
	hit := s.filter.TestString(envelopeID)
	s.mu.Unlock()
	if !hit {
		return false, nil
	}

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyPrefix + envelopeID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check envelope id: %w", err)
	}
	return true, nil
}

// Mark records the envelope ID as processed. The BadgerDB entry carries the
// configured retention as its TTL; the Bloom filter is additive and only
// resets on restart.
func (s *Store) Mark(envelopeID string) error {
	if envelopeID == "" {
		return nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+envelopeID), nil).
			WithTTL(s.config.Retention)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to mark envelope id: %w", err)
	}

	s.mu.Lock()
	s.filter.AddString(envelopeID)
	s.mu.Unlock()

	return nil
}
