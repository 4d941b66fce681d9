// Package triples provides the durable (subject, name, value) store that
// extraction motors write to.
//
// Store keeps every triple twice in BadgerDB, once keyed by subject and once
// keyed by value, so that "what does message 7 say about its bout" and "which
// messages point at bout 3" are both prefix scans.
//
// Key Structure:
//   - Forward: 0x01 + name + 0x00 + subject + value -> empty
//   - Reverse: 0x02 + name + 0x00 + uvarint(len(value)) + value + subject -> empty
//   - Catalog: 0x03 + name -> flags (multi-valued names)
//   - Guard:   0x04 + name + 0x00 + subject -> empty (overwrite conflicts)
//
// Every logical operation runs in one badger transaction and is retried when
// badger reports a conflict, so the store is safe for concurrent callers.
//
// Example:
//
//	store, err := triples.Open(triples.Options{DataDir: "./data/triples"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	store.Put(7, "message-to-bout", "3")
//	bout, err := store.Get(7, "message-to-bout")
package triples

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/dgraph-io/badger/v4"
)

// maxRetries bounds how many times a conflicting transaction is replayed.
const maxRetries = 512

// Options configures the triple store.
type Options struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each commit.
	SyncWrites bool

	// Logger for BadgerDB internal logging. Nil silences badger.
	Logger badger.Logger

	// BlockCacheSize overrides the block cache size in bytes (0 = 32MB).
	BlockCacheSize int64
}

// Stats counts store operations since Open.
type Stats struct {
	Puts    uint64
	Gets    uint64
	Misses  uint64
	Deletes uint64
	Retries uint64
}

// Store is a BadgerDB-backed triple store.
type Store struct {
	db *badger.DB

	mu     sync.RWMutex // protects multi and closed
	multi  map[string]bool
	closed bool

	puts    atomic.Uint64
	gets    atomic.Uint64
	misses  atomic.Uint64
	deletes atomic.Uint64
	retries atomic.Uint64
}

// Open opens (or creates) a triple store.
//
// Memory settings are sized for containers: 16MB memtables, a 64MB value log
// and a bounded block cache.
func Open(opts Options) (*Store, error) {
	dir := opts.DataDir
	if opts.InMemory {
		dir = ""
	} else if dir == "" {
		return nil, fmt.Errorf("triples: data directory is required")
	}

	badgerOpts := badger.DefaultOptions(dir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	// A nil logger keeps badger quiet.
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	blockCache := opts.BlockCacheSize
	if blockCache <= 0 {
		blockCache = 32 << 20
	}
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(blockCache).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("triples: open badger: %w", err)
	}

	s := &Store{db: db, multi: make(map[string]bool)}
	if err := s.loadCatalog(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadCatalog() error {
	return s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixCatalog}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := string(item.Key()[1:])
			err := item.Value(func(val []byte) error {
				s.multi[name] = len(val) > 0 && val[0]&flagMulti != 0
				return nil
			})
			if err != nil {
				return fmt.Errorf("triples: read catalog: %w", err)
			}
		}
		return nil
	})
}

// Declare records whether name holds one value or a set of values per
// subject. Undeclared names are single-valued.
func (s *Store) Declare(name string, multi bool) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	var flags byte
	if multi {
		flags |= flagMulti
	}
	err := s.update(func(txn *badger.Txn) error {
		return txn.Set(catalogKey(name), []byte{flags})
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.multi[name] = multi
	s.mu.Unlock()
	return nil
}

// IsMulti reports whether name was declared multi-valued.
func (s *Store) IsMulti(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.multi[name]
}

// Put stores value for (subject, name). Single-valued names lose their
// previous value in the same transaction; multi-valued names gain value.
func (s *Store) Put(subject uint64, name, value string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	multi := s.IsMulti(name)
	s.puts.Add(1)
	return s.update(func(txn *badger.Txn) error {
		if !multi {
			if err := touchGuard(txn, name, subject); err != nil {
				return err
			}
			if err := clearTxn(txn, subject, name); err != nil {
				return err
			}
		}
		if err := txn.Set(forwardKey(name, subject, value), nil); err != nil {
			return err
		}
		return txn.Set(reverseKey(name, value, subject), nil)
	})
}

// Get returns the value of (subject, name). Multi-valued names return their
// lowest-sorted value. A missing triple yields *MissingTripleError.
func (s *Store) Get(subject uint64, name string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	s.gets.Add(1)
	var value string
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := forwardPrefix(name, subject)
		it := txn.NewIterator(keysOnly(prefix))
		defer it.Close()
		it.Seek(prefix)
		if it.ValidForPrefix(prefix) {
			value = string(it.Item().Key()[len(prefix):])
			found = true
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("triples: get: %w", err)
	}
	if !found {
		s.misses.Add(1)
		return "", &MissingTripleError{Subject: subject, Name: name}
	}
	return value, nil
}

// Has reports whether (subject, name, value) is stored. The value is never
// decoded; this is a single key lookup.
func (s *Store) Has(subject uint64, name, value string) bool {
	if s.checkOpen() != nil {
		return false
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(forwardKey(name, subject, value))
		return err
	})
	return err == nil
}

// All returns every value of (subject, name) in ascending order.
func (s *Store) All(subject uint64, name string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var values []string
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := forwardPrefix(name, subject)
		it := txn.NewIterator(keysOnly(prefix))
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			values = append(values, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("triples: all: %w", err)
	}
	return values, nil
}

// Reverse returns the subjects holding value under name, newest (highest)
// first.
func (s *Store) Reverse(name, value string) ([]uint64, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var subjects []uint64
	err := s.db.View(func(txn *badger.Txn) error {
		subjects = reverseTxn(txn, name, value, subjects)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("triples: reverse: %w", err)
	}
	slices.Reverse(subjects)
	return subjects, nil
}

// ReverseJoin walks two names backwards: it returns every subject s with
// s --left--> x and x --right--> value, where x is the decimal form of an
// intermediate subject. Results are distinct and newest first.
//
// Example: ReverseJoin("message-to-bout", "bout-to-participant", "urn:test:A")
// lists the messages of every bout that urn:test:A takes part in.
func (s *Store) ReverseJoin(left, right, value string) ([]uint64, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	found := roaring64.New()
	err := s.db.View(func(txn *badger.Txn) error {
		var buf []uint64
		for _, mid := range reverseTxn(txn, right, value, nil) {
			buf = reverseTxn(txn, left, strconv.FormatUint(mid, 10), buf[:0])
			found.AddMany(buf)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("triples: reverse join: %w", err)
	}
	subjects := found.ToArray()
	slices.Reverse(subjects)
	return subjects, nil
}

// Clear removes every value of (subject, name).
func (s *Store) Clear(subject uint64, name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.deletes.Add(1)
	return s.update(func(txn *badger.Txn) error {
		if err := touchGuard(txn, name, subject); err != nil {
			return err
		}
		return clearTxn(txn, subject, name)
	})
}

// DeletePattern removes every triple whose name matches pattern, a
// path.Match glob ("xml-*", "message-to-bout"). It returns how many triples
// were removed. Deletion is batched and is not atomic across batches.
func (s *Store) DeletePattern(pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("triples: bad pattern %q: %w", pattern, err)
	}
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var doomed [][]byte
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixForward}
		it := txn.NewIterator(keysOnly(prefix))
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			name, subject, value, ok := splitForward(it.Item().Key())
			if !ok {
				continue
			}
			if matched, _ := path.Match(pattern, name); matched {
				doomed = append(doomed,
					it.Item().KeyCopy(nil),
					reverseKey(name, value, subject),
					guardKey(name, subject),
				)
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("triples: scan for delete: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range doomed {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("triples: delete: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("triples: delete: %w", err)
	}
	s.deletes.Add(uint64(count))
	return count, nil
}

// Stats returns operation counters.
func (s *Store) Stats() Stats {
	return Stats{
		Puts:    s.puts.Load(),
		Gets:    s.gets.Load(),
		Misses:  s.misses.Load(),
		Deletes: s.deletes.Load(),
		Retries: s.retries.Load(),
	}
}

// Close releases the underlying BadgerDB. Further calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// update runs fn in a read-write transaction, replaying it on conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		s.retries.Add(1)
	}
	if err != nil {
		return fmt.Errorf("triples: update: %w", err)
	}
	return nil
}

func touchGuard(txn *badger.Txn, name string, subject uint64) error {
	key := guardKey(name, subject)
	if _, err := txn.Get(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Set(key, nil)
}

// clearTxn deletes every (subject, name) value and its reverse entry.
func clearTxn(txn *badger.Txn, subject uint64, name string) error {
	prefix := forwardPrefix(name, subject)
	var values []string
	it := txn.NewIterator(keysOnly(prefix))
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		values = append(values, string(it.Item().Key()[len(prefix):]))
	}
	it.Close()

	for _, v := range values {
		if err := txn.Delete(forwardKey(name, subject, v)); err != nil {
			return err
		}
		if err := txn.Delete(reverseKey(name, v, subject)); err != nil {
			return err
		}
	}
	return nil
}

// reverseTxn appends the subjects holding value under name, ascending.
func reverseTxn(txn *badger.Txn, name, value string, dst []uint64) []uint64 {
	prefix := reversePrefix(name, value)
	it := txn.NewIterator(keysOnly(prefix))
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		if len(key) != len(prefix)+8 {
			continue
		}
		dst = append(dst, subjectOfReverse(key))
	}
	return dst
}

func keysOnly(prefix []byte) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	return opts
}
