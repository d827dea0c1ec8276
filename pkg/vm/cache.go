package vm

import (
	"fmt"

	"github.com/nooga/shapevm/pkg/config"
)

// PropCacheState represents the different states of inline cache
type PropCacheState uint8

const (
	CacheStateUninitialized PropCacheState = iota
	CacheStateMonomorphic                  // Single shape cached
	CacheStatePolymorphic                  // Multiple shapes cached (up to maxEntries)
	CacheStateMegamorphic                  // Too many shapes, always take the full lookup
)

func (s PropCacheState) String() string {
	switch s {
	case CacheStateMonomorphic:
		return "MONOMORPHIC"
	case CacheStatePolymorphic:
		return "POLYMORPHIC"
	case CacheStateMegamorphic:
		return "MEGAMORPHIC"
	default:
		return "UNINITIALIZED"
	}
}

// PropCacheEntry represents a single shape+slot entry in the cache. For store
// sites that add a property, next is the shape the object transitions to.
type PropCacheEntry struct {
	shape ShapeID
	next  ShapeID
	slot  int
}

// PropInlineCache represents the inline cache for a property access site.
// With maxEntries == 1 it is a plain monomorphic cache whose single entry is
// overwritten on every miss.
type PropInlineCache struct {
	state      PropCacheState
	entries    [config.MaxPolymorphicEntries]PropCacheEntry
	entryCount int
	maxEntries int
	hitCount   uint32
	missCount  uint32
}

func newPropInlineCache(maxEntries int) PropInlineCache {
	if maxEntries < 1 || maxEntries > config.MaxPolymorphicEntries {
		maxEntries = config.MaxPolymorphicEntries
	}
	return PropInlineCache{maxEntries: maxEntries}
}

// lookupInCache returns the entry cached for shape.
func (ic *PropInlineCache) lookupInCache(shape ShapeID) (PropCacheEntry, bool) {
	switch ic.state {
	case CacheStateMonomorphic:
		if ic.entries[0].shape == shape {
			ic.hitCount++
			return ic.entries[0], true
		}
	case CacheStatePolymorphic:
		for i := 0; i < ic.entryCount; i++ {
			if ic.entries[i].shape == shape {
				ic.hitCount++
				// Move hit entry to front
				if i > 0 {
					entry := ic.entries[i]
					copy(ic.entries[1:i+1], ic.entries[0:i])
					ic.entries[0] = entry
				}
				return ic.entries[0], true
			}
		}
	}
	ic.missCount++
	return PropCacheEntry{}, false
}

// updateCache records a resolution for shape.
func (ic *PropInlineCache) updateCache(entry PropCacheEntry) {
	switch ic.state {
	case CacheStateUninitialized:
		ic.state = CacheStateMonomorphic
		ic.entries[0] = entry
		ic.entryCount = 1
	case CacheStateMonomorphic:
		if ic.entries[0].shape == entry.shape || ic.maxEntries == 1 {
			ic.entries[0] = entry
			return
		}
		ic.state = CacheStatePolymorphic
		ic.entries[1] = entry
		ic.entryCount = 2
	case CacheStatePolymorphic:
		for i := 0; i < ic.entryCount; i++ {
			if ic.entries[i].shape == entry.shape {
				ic.entries[i] = entry
				return
			}
		}
		if ic.entryCount < ic.maxEntries {
			ic.entries[ic.entryCount] = entry
			ic.entryCount++
		} else {
			ic.state = CacheStateMegamorphic
			ic.entryCount = 0
		}
	case CacheStateMegamorphic:
		return
	}
}

// resetCache clears the inline cache
func (ic *PropInlineCache) resetCache() {
	ic.state = CacheStateUninitialized
	ic.entryCount = 0
	// hit/miss counts are kept for statistics
}

// compact drops entries whose shapes were reclaimed. A megamorphic cache is
// left alone.
func (ic *PropInlineCache) compact(g *ShapeGraph) int {
	if ic.state != CacheStateMonomorphic && ic.state != CacheStatePolymorphic {
		return 0
	}
	kept := 0
	for i := 0; i < ic.entryCount; i++ {
		e := ic.entries[i]
		if g.Get(e.shape) == nil || (e.next != 0 && g.Get(e.next) == nil) {
			continue
		}
		ic.entries[kept] = e
		kept++
	}
	dropped := ic.entryCount - kept
	ic.entryCount = kept
	switch kept {
	case 0:
		ic.state = CacheStateUninitialized
	case 1:
		ic.state = CacheStateMonomorphic
	}
	return dropped
}

func (ic *PropInlineCache) State() PropCacheState { return ic.state }
func (ic *PropInlineCache) Entries() int          { return ic.entryCount }
func (ic *PropInlineCache) Hits() uint32          { return ic.hitCount }
func (ic *PropInlineCache) Misses() uint32        { return ic.missCount }

func (ic *PropInlineCache) String() string {
	if ic.state == CacheStatePolymorphic {
		return fmt.Sprintf("POLYMORPHIC(%d)", ic.entryCount)
	}
	return ic.state.String()
}

// CallInlineCache remembers the last callee seen at a call site and how many
// consecutive calls went to it.
type CallInlineCache struct {
	callee    Ref
	streak    int
	hitCount  uint32
	missCount uint32
}

// observe records a call to callee and reports whether it matched the cache.
func (ic *CallInlineCache) observe(callee Ref) bool {
	if ic.callee == callee {
		ic.streak++
		ic.hitCount++
		return true
	}
	ic.callee = callee
	ic.streak = 1
	ic.missCount++
	return false
}

func (ic *CallInlineCache) Callee() Ref    { return ic.callee }
func (ic *CallInlineCache) Streak() int    { return ic.streak }
func (ic *CallInlineCache) Hits() uint32   { return ic.hitCount }
func (ic *CallInlineCache) Misses() uint32 { return ic.missCount }

// CacheStats holds statistics about inline cache performance
type CacheStats struct {
	TotalHits       uint64
	TotalMisses     uint64
	MonomorphicHits uint64
	PolymorphicHits uint64
	MegamorphicOps  uint64
	DictionaryOps   uint64
	CallHits        uint64
	CallMisses      uint64
}

// HitRate returns the property hit percentage.
func (s CacheStats) HitRate() float64 {
	total := s.TotalHits + s.TotalMisses
	if total == 0 {
		return 0
	}
	return float64(s.TotalHits) / float64(total) * 100.0
}
