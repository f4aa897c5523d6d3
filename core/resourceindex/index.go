package resourceindex

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/web-ai-community/cross-origin-storage/core/infra/logging"
	"github.com/web-ai-community/cross-origin-storage/core/infra/settings"
)

const (
	// historyLimit bounds the per-(origin,hash) access history.
	historyLimit = 3
	// storageKey is the settings-store key holding the whole index record.
	storageKey = "cos:index"
)

// Index tracks which origins have touched which content hashes, a bounded
// newest-first access history per pair, and cached blob sizes. The two
// direction maps are kept symmetric on every mutation. All state is
// guarded by one mutex; persistence is a single opaque record in the
// settings store.
type Index struct {
	mu       sync.Mutex
	settings settings.Store

	originToHashes map[string][]string
	hashToOrigins  map[string][]string
	accessHistory  map[string][]string
	sizeCache      map[string]int64
}

// record is the persisted shape of the index.
type record struct {
	OriginToHashes map[string][]string `json:"originToHashes"`
	HashToOrigins  map[string][]string `json:"hashToOrigins"`
	AccessHistory  map[string][]string `json:"accessHistory"`
	SizeCache      map[string]int64    `json:"hashToSize"`
}

// New returns an empty index persisting through the given settings store.
func New(store settings.Store) *Index {
	idx := &Index{settings: store}
	idx.reset()
	return idx
}

func (x *Index) reset() {
	x.originToHashes = make(map[string][]string)
	x.hashToOrigins = make(map[string][]string)
	x.accessHistory = make(map[string][]string)
	x.sizeCache = make(map[string]int64)
}

// Load hydrates the index from the settings store. A missing or malformed
// record leaves the index at its empty default and never fails.
func (x *Index) Load(ctx context.Context) {
	raw, err := x.settings.Get(ctx, storageKey)
	if err != nil {
		if !errors.Is(err, settings.ErrNotFound) {
			logging.Warn("index", "load failed, starting empty", "error", err)
		}
		return
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		logging.Warn("index", "malformed index record, starting empty", "error", err)
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if rec.OriginToHashes != nil {
		x.originToHashes = rec.OriginToHashes
	}
	if rec.HashToOrigins != nil {
		x.hashToOrigins = rec.HashToOrigins
	}
	if rec.AccessHistory != nil {
		x.accessHistory = rec.AccessHistory
	}
	if rec.SizeCache != nil {
		x.sizeCache = rec.SizeCache
	}
}

// Save flushes the index to the settings store as one record.
func (x *Index) Save(ctx context.Context) error {
	x.mu.Lock()
	raw, err := json.Marshal(record{
		OriginToHashes: x.originToHashes,
		HashToOrigins:  x.hashToOrigins,
		AccessHistory:  x.accessHistory,
		SizeCache:      x.sizeCache,
	})
	x.mu.Unlock()
	if err != nil {
		return err
	}
	return x.settings.Set(ctx, storageKey, raw)
}

// RecordAccess inserts the origin<->hash association (idempotent on the
// maps) and pushes the timestamp onto the pair's history, truncating to
// the history limit. Memory-only; the caller persists once per batch.
func (x *Index) RecordAccess(origin, hashKey string, ts time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !contains(x.originToHashes[origin], hashKey) {
		x.originToHashes[origin] = append(x.originToHashes[origin], hashKey)
	}
	if !contains(x.hashToOrigins[hashKey], origin) {
		x.hashToOrigins[hashKey] = append(x.hashToOrigins[hashKey], origin)
	}
	pair := pairKey(origin, hashKey)
	history := append([]string{ts.UTC().Format(time.RFC3339)}, x.accessHistory[pair]...)
	if len(history) > historyLimit {
		history = history[:historyLimit]
	}
	x.accessHistory[pair] = history
}

// RecordSize caches a blob size. Negative sizes are silently ignored.
// Persists immediately.
func (x *Index) RecordSize(ctx context.Context, hashKey string, size int64) {
	if size < 0 {
		return
	}
	x.mu.Lock()
	x.sizeCache[hashKey] = size
	x.mu.Unlock()
	if err := x.Save(ctx); err != nil {
		logging.Error("index", "persist after size record failed", "hash", hashKey, "error", err)
	}
}

// SizeByHash returns the cached size, if known.
func (x *Index) SizeByHash(hashKey string) (int64, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	size, ok := x.sizeCache[hashKey]
	return size, ok
}

// HashesByOrigin returns the origin's hashes, lexicographically sorted.
func (x *Index) HashesByOrigin(origin string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return sortedCopy(x.originToHashes[origin])
}

// OriginsByHash returns the hash's origins, lexicographically sorted.
func (x *Index) OriginsByHash(hashKey string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return sortedCopy(x.hashToOrigins[hashKey])
}

// AllOrigins returns every known origin, sorted.
func (x *Index) AllOrigins() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return sortedKeys(x.originToHashes)
}

// AllHashes returns every known hash key, sorted.
func (x *Index) AllHashes() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return sortedKeys(x.hashToOrigins)
}

// AccessHistory returns the pair's history, newest first, bounded by the
// history limit.
func (x *Index) AccessHistory(origin, hashKey string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	history := x.accessHistory[pairKey(origin, hashKey)]
	out := make([]string, len(history))
	copy(out, history)
	return out
}

// DeleteByHash removes one or more hashes and everything hanging off
// them: the inverse map entries, per-pair histories, and cached sizes.
// Origins left with no hashes are removed entirely. Unknown hashes are
// skipped with a warning. Persists once if anything was deleted.
func (x *Index) DeleteByHash(ctx context.Context, hashKeys ...string) error {
	x.mu.Lock()
	deleted := false
	for _, hashKey := range hashKeys {
		origins, ok := x.hashToOrigins[hashKey]
		if !ok {
			logging.Warn("index", "hash not found, skipping", "hash", hashKey)
			continue
		}
		deleted = true
		for _, origin := range origins {
			remaining := without(x.originToHashes[origin], hashKey)
			if len(remaining) == 0 {
				delete(x.originToHashes, origin)
			} else {
				x.originToHashes[origin] = remaining
			}
			delete(x.accessHistory, pairKey(origin, hashKey))
		}
		delete(x.hashToOrigins, hashKey)
		delete(x.sizeCache, hashKey)
	}
	x.mu.Unlock()
	if !deleted {
		return nil
	}
	return x.Save(ctx)
}

// Reset drops all index state and persists the empty record.
func (x *Index) Reset(ctx context.Context) error {
	x.mu.Lock()
	x.reset()
	x.mu.Unlock()
	return x.Save(ctx)
}

func pairKey(origin, hashKey string) string {
	return origin + "|" + hashKey
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}

func sortedCopy(list []string) []string {
	out := make([]string, len(list))
	copy(out, list)
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
