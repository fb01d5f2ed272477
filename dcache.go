package ext4

import (
	"fmt"
	"sync"
)

// DCache maps (parent-inode-id, name) to a cached entry, grounded
// directly on original_source/src/dcache.cc's DCacheManager: a single
// hash table keyed by a synthetic "$<parent_inode_idx><name>" string,
// entries carrying a non-owning parent pointer rather than an index
// into a separate arena (spec.md §9 offers both; a pointer-based node
// is the more direct Go translation of the original's raw pointer).
type DCache struct {
	mu    sync.RWMutex
	root  *DCacheEntry
	table map[string]*DCacheEntry
}

// DCacheEntry is one cached (name -> inode) mapping. Parent is stable
// for the entry's lifetime; the root is its own parent.
type DCacheEntry struct {
	Parent  *DCacheEntry
	InodeID uint32
}

func NewDCache() *DCache {
	return &DCache{table: make(map[string]*DCacheEntry)}
}

func dcacheKey(parentInodeID uint32, name string) string {
	return fmt.Sprintf("$%d%s", parentInodeID, name)
}

// InitRoot seeds the self-parented root entry. Reinitializing an
// already-initialized cache is logged and rejected, not silently
// overwritten.
func (dc *DCache) InitRoot(rootInodeID uint32) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.root != nil {
		logger.Warningf(nil, "dcache root already initialized, ignoring reinit")
		return fmt.Errorf("dcache: root already initialized")
	}

	root := &DCacheEntry{InodeID: rootInodeID}
	root.Parent = root
	dc.root = root
	dc.table[dcacheKey(rootInodeID, "/")] = root
	return nil
}

func (dc *DCache) GetRoot() *DCacheEntry {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.root
}

// Lookup reports the cached child of parent named name. A tombstoned
// (removed) entry reports as not found.
func (dc *DCache) Lookup(name string, parent *DCacheEntry) (*DCacheEntry, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	e, ok := dc.table[dcacheKey(parent.InodeID, name)]
	if !ok || e == nil {
		return nil, false
	}
	return e, true
}

// Insert caches name -> inodeID under parent, replacing any prior
// entry (or tombstone) at that key.
func (dc *DCache) Insert(name string, inodeID uint32, parent *DCacheEntry) *DCacheEntry {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	e := &DCacheEntry{Parent: parent, InodeID: inodeID}
	dc.table[dcacheKey(parent.InodeID, name)] = e
	return e
}

// Remove tombstones name under parentInodeID: the key stays present
// mapped to nil so a concurrent Lookup never resurrects a stale
// pointer, it just reports a miss.
func (dc *DCache) Remove(name string, parentInodeID uint32) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	k := dcacheKey(parentInodeID, name)
	if _, ok := dc.table[k]; ok {
		dc.table[k] = nil
	}
}
