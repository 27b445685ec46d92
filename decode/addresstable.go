// Address-table resolution: a small LRU cache keyed by table-account
// public key, with a read-time TTL check so an on-chain table update
// is eventually observed instead of cached forever.
package decode

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const defaultAddressTableCacheSize = 4096
const defaultAddressTableTTL = 30 * time.Second

// AddressTable holds the writable/readonly key slices resolved from an
// on-chain address lookup table account.
type AddressTable struct {
	Writable []PublicKey
	Readonly []PublicKey
}

type cacheEntry struct {
	table     AddressTable
	fetchedAt time.Time
}

// AddressTableFetcher performs the synchronous RPC fallback fetch on a
// cache miss. The core ships no concrete implementation — supplying
// one is an application concern — but a nil fetcher is a valid,
// supported configuration: a miss with no fetcher configured simply
// yields no resolution for that lookup, degrading gracefully rather
// than failing the transaction.
type AddressTableFetcher func(table PublicKey) (AddressTable, error)

// AddressTableCache resolves on-chain address lookup tables.
type AddressTableCache struct {
	cache   *lru.Cache
	ttl     time.Duration
	fetcher AddressTableFetcher
}

func NewAddressTableCache(fetcher AddressTableFetcher) (*AddressTableCache, error) {
	return NewAddressTableCacheWithOptions(defaultAddressTableCacheSize, defaultAddressTableTTL, fetcher)
}

func NewAddressTableCacheWithOptions(size int, ttl time.Duration, fetcher AddressTableFetcher) (*AddressTableCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &AddressTableCache{cache: c, ttl: ttl, fetcher: fetcher}, nil
}

// Resolve returns the address table for key, serving from cache when
// fresh and falling through to the fetcher on a miss or an expired
// entry.
func (c *AddressTableCache) Resolve(key PublicKey) (AddressTable, bool) {
	if v, ok := c.cache.Get(key); ok {
		entry := v.(cacheEntry)
		if time.Since(entry.fetchedAt) <= c.ttl {
			return entry.table, true
		}
		c.cache.Remove(key)
	}
	if c.fetcher == nil {
		return AddressTable{}, false
	}
	table, err := c.fetcher(key)
	if err != nil {
		return AddressTable{}, false
	}
	c.cache.Add(key, cacheEntry{table: table, fetchedAt: time.Now()})
	return table, true
}
