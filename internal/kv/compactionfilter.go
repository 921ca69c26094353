package kv

import (
	"sync"
	"time"

	db "github.com/aalhour/rockyardkv"

	"github.com/justforfun1323/blackwidow/internal/codec"
)

// MetaDecoder extracts (count, expired, version) from a raw meta-value so
// the compaction filter can stay type-agnostic: each engine supplies its
// own decoder (codec.DecodeHashMeta, codec.DecodeSetMeta, ...) wrapped to
// this common shape.
type MetaDecoder func(raw []byte, now int64) (count uint64, version uint64, stale bool)

// FilterFactory is the per-store db.CompactionFilterFactory installed at
// Open time (spec.md §6 "Compaction filters. Installed per engine.").
//
// aalhour/rockyardkv installs one CompactionFilterFactory per *database*
// (db.Options.CompactionFilterFactory), not per column family, and every
// call site that builds a db.CompactionFilterContext (both the automatic
// background path and the manual CompactRange path, both bottoming out in
// executeCompaction) hardcodes ColumnFamilyID to 0 regardless of which CF
// is actually being compacted. Dispatching on ctx.ColumnFamilyID would
// therefore always resolve to the same branch, so CreateCompactionFilter
// mints one filter that instead sniffs the key it is handed: a data-key
// carries the user-key-len(4BE)‖user-key‖version prefix (SPEC_FULL.md
// §4.1); a meta-key is the bare user key and essentially never happens to
// parse as one (spec.md §6).
type FilterFactory struct {
	engineName   string
	decodeMeta   MetaDecoder
	versionWidth int // 4 for hashes/sets/zsets, 8 for lists (spec.md §4.1)
	now          func() int64

	mu        sync.Mutex
	store     *Store // set via BindStore once the store exists
	tombstone map[string]int // user-key -> compaction cycles seen as a pure tombstone
}

// NewFilterFactory constructs a filter factory for one engine. decodeMeta
// must be supplied by the caller (each engine's codec package knows its
// own meta layout); store is bound afterward via BindStore since the
// store does not exist until after db.Open, which itself needs the
// factory. versionWidth must match the engine's data-key version field
// width (codec.KeyPrefix's versionWidth parameter).
func NewFilterFactory(engineName string, decodeMeta MetaDecoder, versionWidth int) *FilterFactory {
	return &FilterFactory{
		engineName:   engineName,
		decodeMeta:   decodeMeta,
		versionWidth: versionWidth,
		now:          func() int64 { return time.Now().Unix() },
		tombstone:    map[string]int{},
	}
}

// BindStore attaches the now-open store to the factory so the data-record
// branch can look up live meta versions during compaction (spec.md §9
// "Lazy deletion via versioning" (a)).
func (f *FilterFactory) BindStore(s *Store) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store = s
}

func (f *FilterFactory) Name() string { return f.engineName + "-compaction-filter-factory" }

// CreateCompactionFilter ignores ctx: see the FilterFactory doc comment
// for why ColumnFamilyID can't be trusted to disambiguate meta from data
// here. The returned filter decides per-key instead.
func (f *FilterFactory) CreateCompactionFilter(ctx db.CompactionFilterContext) db.CompactionFilter {
	return &recordFilter{factory: f}
}

// looksLikeDataKey reports whether key parses as a data-key: a 4-byte
// big-endian length, that many bytes of user-key, and at least
// versionWidth bytes left over for the version field. A bare meta-key
// (arbitrary user-supplied bytes) passing this check by coincidence would
// require its first four bytes to decode as a length that exactly leaves
// versionWidth-or-more trailing bytes, which real key names don't do.
func (f *FilterFactory) looksLikeDataKey(key []byte) bool {
	_, suffix, err := codec.SplitDataKeyPrefix(key)
	if err != nil {
		return false
	}
	return len(suffix) >= f.versionWidth
}

// recordFilter drops meta records that are pure tombstones (count == 0)
// once they have survived one extra compaction cycle, or whose expiration
// is in the past and whose count is 0; and drops a data record whenever
// its (user-key, version) no longer matches the live meta version, or the
// meta is gone/stale (spec.md §6, §9 "Lazy deletion via versioning").
// Which branch applies is decided per-key by looksLikeDataKey, since this
// filter runs against both the meta and data column families.
type recordFilter struct {
	factory *FilterFactory
}

func (r *recordFilter) Name() string { return r.factory.engineName + "-record-filter" }

func (r *recordFilter) Filter(level int, key, oldValue []byte) (db.CompactionFilterDecision, []byte) {
	if r.factory.looksLikeDataKey(key) {
		return r.filterData(key, oldValue)
	}
	return r.filterMeta(key, oldValue)
}

func (r *recordFilter) filterMeta(key, oldValue []byte) (db.CompactionFilterDecision, []byte) {
	count, _, stale := r.factory.decodeMeta(oldValue, r.factory.now())
	userKey := string(key)

	if count == 0 {
		r.factory.mu.Lock()
		seen := r.factory.tombstone[userKey]
		r.factory.tombstone[userKey] = seen + 1
		r.factory.mu.Unlock()
		if seen >= 1 {
			return db.FilterRemove, nil
		}
		return db.FilterKeep, nil
	}

	if stale {
		return db.FilterRemove, nil
	}

	return db.FilterKeep, nil
}

func (r *recordFilter) filterData(key, oldValue []byte) (db.CompactionFilterDecision, []byte) {
	userKey, _, err := codec.SplitDataKeyPrefix(key)
	if err != nil {
		// malformed composite key: never drop data we cannot attribute to
		// a user-key, corruption should surface via reads, not silent loss.
		return db.FilterKeep, nil
	}

	r.factory.mu.Lock()
	store := r.factory.store
	r.factory.mu.Unlock()
	if store == nil {
		return db.FilterKeep, nil
	}

	metaRaw, found, err := store.GetMeta(userKey)
	if err != nil || !found {
		return db.FilterRemove, nil
	}

	liveCount, liveVersion, stale := r.factory.decodeMeta(metaRaw, r.factory.now())
	if stale || liveCount == 0 {
		return db.FilterRemove, nil
	}

	recordVersion, ok := r.factory.versionFromDataKey(key)
	if !ok || recordVersion != liveVersion {
		return db.FilterRemove, nil
	}

	return db.FilterKeep, nil
}

func (r *recordFilter) FilterMergeOperand(level int, key, operand []byte) db.CompactionFilterDecision {
	return db.FilterKeep
}

// versionFromDataKey extracts the version field that immediately follows
// the user-key-len‖user-key prefix shared by every data-key layout, using
// this factory's configured width (4 bytes for hashes/sets/zsets, 8 bytes
// for lists).
func (f *FilterFactory) versionFromDataKey(key []byte) (uint64, bool) {
	_, suffix, err := codec.SplitDataKeyPrefix(key)
	if err != nil || len(suffix) < f.versionWidth {
		return 0, false
	}
	var v uint64
	for i := 0; i < f.versionWidth; i++ {
		v = v<<8 | uint64(suffix[i])
	}
	return v, true
}
