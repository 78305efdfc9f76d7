// Package tracecache is a persisted, content-addressed cache of
// per-program run statistics (SPEC_FULL.md §2/§11): two numbers per
// program source, a block count and a stack-growth figure, exactly as
// the caller supplies them. It caches only those two numbers — never
// executable code or IP state, which stay entirely transient to a
// process per spec.md §5. `cmd/fish --stats-cache` records into it on
// every run; nothing in this repository reads the cached values back
// out or reports them.
package tracecache

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"golang.org/x/crypto/blake2b"
)

// Stats is what gets cached per program source.
type Stats struct {
	BlockCount     int64
	MaxStackGrowth int64
}

func (s Stats) encode() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(s.BlockCount))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(s.MaxStackGrowth))
	return buf
}

func decodeStats(buf []byte) (Stats, error) {
	if len(buf) != 16 {
		return Stats{}, fmt.Errorf("tracecache: corrupt record (%d bytes, want 16)", len(buf))
	}
	return Stats{
		BlockCount:     int64(binary.LittleEndian.Uint64(buf[0:8])),
		MaxStackGrowth: int64(binary.LittleEndian.Uint64(buf[8:16])),
	}, nil
}

// Key is the cache's content-address: blake2b-256 of the program's
// source text, the same hashing idiom the teacher's staterepository and
// merklizer packages use for content addressing.
type Key [32]byte

// KeyFor hashes source into its cache key.
func KeyFor(source string) Key {
	return blake2b.Sum256([]byte(source))
}

// Cache is a pebble-backed key-value store of Stats, keyed by Key. The
// mutex serializes writes through a single batch at a time, mirroring
// the teacher's PebbleStateRepository.BeginTransaction/CommitTransaction
// pattern of one live batch guarding concurrent mutation, scaled down
// here since Put never needs to span more than one record.
type Cache struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open opens (creating if necessary) a pebble database at path.
func Open(path string) (*Cache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("tracecache: opening %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

// Get looks up the cached stats for source. ok is false if source has
// never been recorded.
func (c *Cache) Get(source string) (stats Stats, ok bool, err error) {
	key := KeyFor(source)
	c.mu.Lock()
	defer c.mu.Unlock()

	val, closer, err := c.db.Get(key[:])
	if err == pebble.ErrNotFound {
		return Stats{}, false, nil
	}
	if err != nil {
		return Stats{}, false, fmt.Errorf("tracecache: get: %w", err)
	}
	defer closer.Close()

	stats, err = decodeStats(val)
	if err != nil {
		return Stats{}, false, err
	}
	return stats, true, nil
}

// Put records stats for source, overwriting any previous entry.
func (c *Cache) Put(source string, stats Stats) error {
	key := KeyFor(source)
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := c.db.NewBatch()
	if err := batch.Set(key[:], stats.encode(), nil); err != nil {
		batch.Close()
		return fmt.Errorf("tracecache: set: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("tracecache: commit: %w", err)
	}
	return nil
}

// Merge folds newStats into whatever is already cached for source,
// keeping the maximum block count and stack growth ever observed —
// the CLI calls this once per run rather than Put, so repeated
// invocations of the same program accumulate its compile-pressure high
// marks instead of only remembering the most recent run.
func (c *Cache) Merge(source string, newStats Stats) (Stats, error) {
	existing, ok, err := c.Get(source)
	if err != nil {
		return Stats{}, err
	}
	if ok {
		if existing.BlockCount > newStats.BlockCount {
			newStats.BlockCount = existing.BlockCount
		}
		if existing.MaxStackGrowth > newStats.MaxStackGrowth {
			newStats.MaxStackGrowth = existing.MaxStackGrowth
		}
	}
	if err := c.Put(source, newStats); err != nil {
		return Stats{}, err
	}
	return newStats, nil
}
