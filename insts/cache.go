package insts

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// DefaultCacheLimit is the number of entries a FlushCache holds before it
// is emptied. Programs shorter than this never see a flush.
const DefaultCacheLimit = 2000

// CacheStats holds decode cache statistics.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Flushes   uint64
	Evictions uint64
}

// DecodeCache memoizes decoded instructions by raw word.
type DecodeCache interface {
	// Get returns the cached instruction for word, if any.
	Get(word uint32) (Instruction, bool)
	// Put stores the decoded form of word.
	Put(word uint32, inst Instruction)
	// Len returns the number of cached entries.
	Len() int
	// Reset empties the cache and clears statistics.
	Reset()
	// Stats returns cache statistics.
	Stats() CacheStats
}

// FlushCache is an unbounded map that is cleared wholesale once it grows
// past its limit. Simpler than LRU; a flush only costs re-decoding.
type FlushCache struct {
	limit   int
	entries map[uint32]Instruction
	stats   CacheStats
}

// NewFlushCache creates a FlushCache that empties itself above limit
// entries.
func NewFlushCache(limit int) *FlushCache {
	return &FlushCache{
		limit:   limit,
		entries: make(map[uint32]Instruction),
	}
}

// Get returns the cached instruction for word.
func (c *FlushCache) Get(word uint32) (Instruction, bool) {
	inst, ok := c.entries[word]
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return inst, ok
}

// Put stores an instruction, flushing everything if the limit is exceeded.
func (c *FlushCache) Put(word uint32, inst Instruction) {
	c.entries[word] = inst
	if len(c.entries) > c.limit {
		c.entries = make(map[uint32]Instruction)
		c.stats.Flushes++
	}
}

// Len returns the number of cached entries.
func (c *FlushCache) Len() int {
	return len(c.entries)
}

// Reset empties the cache.
func (c *FlushCache) Reset() {
	c.entries = make(map[uint32]Instruction)
	c.stats = CacheStats{}
}

// Stats returns cache statistics.
func (c *FlushCache) Stats() CacheStats {
	return c.stats
}

// lruKeyStride spaces instruction words apart in the directory address
// space so that every word owns its own block.
const lruKeyStride = 4

// LRUCache is a set-associative decode cache with true LRU replacement,
// built on the Akita cache directory.
type LRUCache struct {
	numSets       int
	associativity int

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	// Decoded instructions, indexed by (setID * associativity + wayID)
	store []Instruction

	stats CacheStats
}

// NewLRUCache creates an LRU decode cache with numSets*associativity
// entries.
func NewLRUCache(numSets, associativity int) *LRUCache {
	return &LRUCache{
		numSets:       numSets,
		associativity: associativity,
		directory: akitacache.NewDirectory(
			numSets,
			associativity,
			lruKeyStride,
			akitacache.NewLRUVictimFinder(),
		),
		store: make([]Instruction, numSets*associativity),
	}
}

func (c *LRUCache) key(word uint32) uint64 {
	return uint64(word) * lruKeyStride
}

func (c *LRUCache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.associativity + block.WayID
}

// Get returns the cached instruction for word and marks it most recently
// used.
func (c *LRUCache) Get(word uint32) (Instruction, bool) {
	block := c.directory.Lookup(0, c.key(word))
	if block == nil || !block.IsValid {
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	c.directory.Visit(block)
	return c.store[c.blockIndex(block)], true
}

// Put stores an instruction, evicting the least recently used entry of
// its set if needed.
func (c *LRUCache) Put(word uint32, inst Instruction) {
	key := c.key(word)

	victim := c.directory.FindVictim(key)
	if victim == nil {
		return
	}
	if victim.IsValid {
		c.stats.Evictions++
	}

	victim.Tag = key
	victim.IsValid = true
	c.store[c.blockIndex(victim)] = inst
	c.directory.Visit(victim)
}

// Len returns the number of valid entries.
func (c *LRUCache) Len() int {
	n := 0
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid {
				n++
			}
		}
	}
	return n
}

// Reset invalidates every entry.
func (c *LRUCache) Reset() {
	c.directory.Reset()
	for i := range c.store {
		c.store[i] = nil
	}
	c.stats = CacheStats{}
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() CacheStats {
	return c.stats
}
