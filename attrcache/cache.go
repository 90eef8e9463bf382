// Package attrcache caches fetched product attributes in a Pebble
// key/value store so repeated reads of the same tag skip the remote
// catalog, and so a catalog outage can be bridged with the last known
// attributes instead of sentinels.
package attrcache

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	jsoniter "github.com/json-iterator/go"
)

const tagPrefix = "t|"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errCacheClosed = errors.New("attrcache: cache is closed")

// Freshness classifies a lookup result.
type Freshness int

const (
	Miss  Freshness = iota // no entry for the tag
	Fresh                  // entry younger than the TTL
	Stale                  // entry exists but is older than the TTL
)

// Entry is one cached attribute set, JSON-encoded in the store.
type Entry struct {
	TagID         string    `json:"tag_id"`
	RecordID      int64     `json:"record_id"`
	PrintCard     string    `json:"print_card"`
	Area          string    `json:"area"`
	ProductCode   string    `json:"product_code"`
	ProductName   string    `json:"product_name"`
	GrossWeight   string    `json:"gross_weight"`
	NetWeight     string    `json:"net_weight"`
	PalletWeight  string    `json:"pallet_weight"`
	Pieces        string    `json:"pieces"`
	UnitOfMeasure string    `json:"uom"`
	Date          string    `json:"date"`
	EntryDate     string    `json:"entry_date"`
	StoredAt      time.Time `json:"stored_at"`
}

// Cache wraps the Pebble database. A nil *Cache is a valid no-op cache so
// callers can run without one configured.
type Cache struct {
	db    *pebble.DB
	cache *pebble.Cache
	ttl   time.Duration
}

// Open opens (or creates) the cache at dir. Entries older than ttl are
// reported as stale but still returned; callers decide whether a stale
// entry beats a sentinel.
func Open(dir string, ttl time.Duration) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("attrcache: dir is empty")
	}
	opts := &pebble.Options{}
	opts.Cache = pebble.NewCache(8 << 20)
	level := pebble.LevelOptions{
		FilterPolicy: bloom.FilterPolicy(10),
		FilterType:   pebble.TableFilter,
	}
	opts.Levels = make([]pebble.LevelOptions, 7)
	for i := range opts.Levels {
		opts.Levels[i] = level
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		opts.Cache.Unref()
		return nil, fmt.Errorf("attrcache: open: %w", err)
	}
	return &Cache{db: db, cache: opts.Cache, ttl: ttl}, nil
}

// Close releases Pebble resources. Safe on nil.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	var err error
	if c.db != nil {
		err = c.db.Close()
		c.db = nil
	}
	if c.cache != nil {
		c.cache.Unref()
		c.cache = nil
	}
	return err
}

// Get returns the cached entry for a tag and its freshness.
func (c *Cache) Get(tagID string) (Entry, Freshness) {
	if c == nil || c.db == nil || tagID == "" {
		return Entry{}, Miss
	}
	value, closer, err := c.db.Get(makeKey(tagID))
	if err != nil {
		return Entry{}, Miss
	}
	defer closer.Close()
	var e Entry
	if err := json.Unmarshal(value, &e); err != nil {
		return Entry{}, Miss
	}
	if c.ttl > 0 && time.Since(e.StoredAt) > c.ttl {
		return e, Stale
	}
	return e, Fresh
}

// Put stores an entry, stamping StoredAt when the caller left it zero.
func (c *Cache) Put(e Entry) error {
	if c == nil {
		return nil
	}
	if c.db == nil {
		return errCacheClosed
	}
	if e.TagID == "" {
		return errors.New("attrcache: entry has no tag id")
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("attrcache: encode: %w", err)
	}
	if err := c.db.Set(makeKey(e.TagID), value, pebble.Sync); err != nil {
		return fmt.Errorf("attrcache: put: %w", err)
	}
	return nil
}

func makeKey(tagID string) []byte {
	return []byte(tagPrefix + tagID)
}
