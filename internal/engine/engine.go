// Package engine is the top-level multiplexer: the five typed
// data-structure engines plus the cross-type operations (EXISTS, DEL,
// EXPIRE, TYPE, TTL, SCAN) that fan out across them, and the background
// compaction worker that drains small-compaction and clean-all requests
// raised by the typed engines. Generalized from the teacher's
// lib/store/lstore single-IStore local-store shape, expanded from one
// flat keyspace to five typed ones (spec.md §4.7).
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/justforfun1323/blackwidow/internal/codec"
	"github.com/justforfun1323/blackwidow/internal/engine/hashes"
	"github.com/justforfun1323/blackwidow/internal/engine/lists"
	"github.com/justforfun1323/blackwidow/internal/engine/sets"
	"github.com/justforfun1323/blackwidow/internal/engine/strings"
	"github.com/justforfun1323/blackwidow/internal/engine/zsets"
	"github.com/justforfun1323/blackwidow/internal/kv"
	"github.com/justforfun1323/blackwidow/internal/lockmgr"
	"github.com/justforfun1323/blackwidow/internal/logging"
	"github.com/justforfun1323/blackwidow/internal/lru"
	"github.com/justforfun1323/blackwidow/internal/metrics"
	"github.com/justforfun1323/blackwidow/internal/queue"
)

var log = logging.GetLogger("engine")

// Canonical type order used by every cross-type fan-out and by SCAN's
// cursor state machine (spec.md §4.7). CursorEntry.Engine tags match
// 1:1 with engineTags below.
const (
	tagStrings byte = 'k'
	tagHashes  byte = 'h'
	tagSets    byte = 's'
	tagLists   byte = 'l'
	tagZSets   byte = 'z'
)

var (
	engineNames = []string{"strings", "hashes", "sets", "lists", "zsets"}
	engineTags  = []byte{tagStrings, tagHashes, tagSets, tagLists, tagZSets}
)

func tagIndex(tag byte) int {
	for i, t := range engineTags {
		if t == tag {
			return i
		}
	}
	return 0
}

// typeEngine is the subset of each typed engine's surface that every
// cross-type operation needs; all five sub-engines satisfy it.
type typeEngine interface {
	Exists(key string) (bool, error)
	Del(key string) (bool, error)
	Type(key string) (string, error)
	Expire(key string, seconds uint32) (bool, error)
	TTL(key string) (int64, error)
}

// task is one unit of background work, matching spec.md §4.7's
// {Type, Op, Arg} shape. Op is "clean_all" or "compact_key"; Arg holds
// the user-key for compact_key and is unused for clean_all. ID is minted
// at enqueue time purely for log correlation between a task being raised
// and the worker eventually running it.
type task struct {
	ID   uuid.UUID
	Type string
	Op   string
	Arg  string
}

// Options configures Engine.Open. StoreOptions is forwarded unchanged to
// every typed store (spec.md §6); LockStripes and CursorCacheCapacity
// default to spec.md's named defaults when zero.
type Options struct {
	StoreOptions      kv.Options
	LockStripes       int
	CursorCacheCapacity int
}

// DefaultOptions returns the options Engine.Open uses absent explicit
// configuration.
func DefaultOptions() Options {
	return Options{
		StoreOptions:        kv.DefaultOptions(),
		LockStripes:         1024,
		CursorCacheCapacity: 5000,
	}
}

// Engine is the multiplexed data-structure store: five typed engines
// sharing one lock manager, one scan-cursor cache, and one background
// compaction worker.
type Engine struct {
	dataDir string

	locks   *lockmgr.Manager
	cursors *lru.CursorCache

	Strings *strings.Engine
	Hashes  *hashes.Engine
	Sets    *sets.Engine
	Lists   *lists.Engine
	ZSets   *zsets.Engine

	stores []*kv.Store  // canonical order: strings, hashes, sets, lists, zsets
	typed  []typeEngine // same order, for cross-type fan-out

	// typedForType holds the same five engines in spec.md §4.7's TYPE-
	// specific check order (strings, hashes, lists, sorted sets, sets),
	// which differs from the canonical DEL/EXISTS/SCAN fan-out order.
	typedForType []typeEngine

	tasks     *queue.MPSC[task]
	cursorSeq atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open opens (creating if necessary) all five typed stores under
// dataDir and starts the background compaction worker.
func Open(dataDir string, opts Options) (*Engine, error) {
	if opts.LockStripes <= 0 {
		opts.LockStripes = 1024
	}
	if opts.CursorCacheCapacity <= 0 {
		opts.CursorCacheCapacity = 5000
	}

	locks := lockmgr.NewManager(opts.LockStripes)
	cursors := lru.NewCursorCache(opts.CursorCacheCapacity)

	stringsStore, err := kv.Open(dataDir, "strings", false, opts.StoreOptions, nil)
	if err != nil {
		return nil, err
	}
	hashesStore, err := kv.Open(dataDir, "hashes", true, opts.StoreOptions,
		kv.NewFilterFactory("hashes", decodeHashMeta, 4))
	if err != nil {
		return nil, err
	}
	setsStore, err := kv.Open(dataDir, "sets", true, opts.StoreOptions,
		kv.NewFilterFactory("sets", decodeSetMeta, 4))
	if err != nil {
		return nil, err
	}
	listsStore, err := kv.Open(dataDir, "lists", true, opts.StoreOptions,
		kv.NewFilterFactory("lists", decodeListMeta, 8))
	if err != nil {
		return nil, err
	}
	zsetsStore, err := kv.Open(dataDir, "zsets", true, opts.StoreOptions,
		kv.NewFilterFactory("zsets", decodeZSetMeta, 4))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dataDir: dataDir,
		locks:   locks,
		cursors: cursors,
		Strings: strings.New(stringsStore, locks),
		Hashes:  hashes.New(hashesStore, locks),
		Sets:    sets.New(setsStore, locks, opts.StoreOptions.StatisticsMaxSize),
		Lists:   lists.New(listsStore, locks),
		ZSets:   zsets.New(zsetsStore, locks),
		stores:  []*kv.Store{stringsStore, hashesStore, setsStore, listsStore, zsetsStore},
		tasks:   queue.New[task](),
	}
	e.typed = []typeEngine{e.Strings, e.Hashes, e.Sets, e.Lists, e.ZSets}
	e.typedForType = []typeEngine{e.Strings, e.Hashes, e.Lists, e.ZSets, e.Sets}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.runWorker(ctx)

	return e, nil
}

// Close stops the background worker and closes every typed store.
func (e *Engine) Close() error {
	e.cancel()
	e.tasks.Close()
	e.wg.Wait()

	var firstErr error
	for _, s := range e.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// --------------------------------------------------------------------------
// Meta decoders (bridge each codec package's meta layout to kv.MetaDecoder)
// --------------------------------------------------------------------------

func decodeHashMeta(raw []byte, now int64) (count uint64, version uint64, stale bool) {
	m, err := codec.DecodeHashMeta(raw)
	if err != nil {
		return 0, 0, true
	}
	return uint64(m.Count), uint64(m.Version), m.Timestamp != 0 && int64(m.Timestamp) <= now
}

func decodeSetMeta(raw []byte, now int64) (count uint64, version uint64, stale bool) {
	m, err := codec.DecodeSetMeta(raw)
	if err != nil {
		return 0, 0, true
	}
	return uint64(m.Count), uint64(m.Version), m.Timestamp != 0 && int64(m.Timestamp) <= now
}

func decodeZSetMeta(raw []byte, now int64) (count uint64, version uint64, stale bool) {
	m, err := codec.DecodeZSetMeta(raw)
	if err != nil {
		return 0, 0, true
	}
	return uint64(m.Count), uint64(m.Version), m.Timestamp != 0 && int64(m.Timestamp) <= now
}

func decodeListMeta(raw []byte, now int64) (count uint64, version uint64, stale bool) {
	m, err := codec.DecodeListMeta(raw)
	if err != nil {
		return 0, 0, true
	}
	return m.Count, m.Version, m.Timestamp != 0 && int64(m.Timestamp) <= now
}

// isLiveMeta reports whether a raw meta-value read off storeIdx's meta CF
// names a live (non-expired, non-tombstone) key.
func isLiveMeta(storeIdx int, raw []byte) bool {
	now := time.Now().Unix()
	switch storeIdx {
	case 0:
		m, err := codec.DecodeStringMeta(raw)
		if err != nil {
			return false
		}
		return m.Timestamp == 0 || int64(m.Timestamp) > now
	case 1:
		count, _, stale := decodeHashMeta(raw, now)
		return count > 0 && !stale
	case 2:
		count, _, stale := decodeSetMeta(raw, now)
		return count > 0 && !stale
	case 3:
		count, _, stale := decodeListMeta(raw, now)
		return count > 0 && !stale
	case 4:
		count, _, stale := decodeZSetMeta(raw, now)
		return count > 0 && !stale
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Cross-type operations (spec.md §4.7)
// --------------------------------------------------------------------------

// Exists reports whether key has a live value under any type. spec.md
// §3.1 permits the same byte-string key to exist concurrently under more
// than one type, so every typed engine is checked in canonical order
// unconditionally rather than stopping at the first hit.
func (e *Engine) Exists(key string) (bool, error) {
	found := false
	for _, te := range e.typed {
		ok, err := te.Exists(key)
		if err != nil {
			return false, err
		}
		if ok {
			found = true
		}
	}
	return found, nil
}

// Del deletes key under every type it currently exists as. spec.md §3.1
// permits the same byte-string key to exist concurrently under more than
// one type, so every typed engine is checked in canonical order
// unconditionally rather than stopping at the first hit; a lone `return`
// there would leave copies under the other types alive and undeleted.
func (e *Engine) Del(key string) (bool, error) {
	deleted := false
	for _, te := range e.typed {
		ok, err := te.Del(key)
		if err != nil {
			return false, err
		}
		if ok {
			deleted = true
		}
	}
	return deleted, nil
}

// Type returns the type name ("string", "hash", "set", "list", "zset")
// of key, or "" if it has no live value. Checked in spec.md §4.7's
// TYPE-specific order (strings, hashes, lists, sorted sets, sets), which
// differs from the canonical DEL/EXISTS/SCAN fan-out order.
func (e *Engine) Type(key string) (string, error) {
	for _, te := range e.typedForType {
		t, err := te.Type(key)
		if err != nil {
			return "", err
		}
		if t != "" {
			return t, nil
		}
	}
	return "", nil
}

// Expire sets a relative TTL in seconds on key under every type it
// currently exists as. spec.md §3.1 permits the same byte-string key to
// exist concurrently under more than one type, so every typed engine is
// checked in canonical order unconditionally rather than stopping at the
// first hit, and the TTL is applied to each copy found.
func (e *Engine) Expire(key string, seconds uint32) (bool, error) {
	applied := false
	for _, te := range e.typed {
		ok, err := te.Expire(key, seconds)
		if err != nil {
			return false, err
		}
		if ok {
			applied = true
		}
	}
	return applied, nil
}

// TTL returns seconds until expiration (-1 no TTL, -2 key absent),
// checking every typed engine in canonical order rather than stopping at
// the first hit, since spec.md §3.1 permits the same byte-string key to
// exist concurrently under more than one type. If more than one type
// reports a distinct live TTL there is no single well-defined answer, so
// this reports -1 (the same sentinel as "no TTL") rather than an
// arbitrary pick.
func (e *Engine) TTL(key string) (int64, error) {
	seen := false
	live := int64(-1)
	liveCount := 0
	for _, te := range e.typed {
		ttl, err := te.TTL(key)
		if err != nil {
			return 0, err
		}
		if ttl == -2 {
			continue
		}
		seen = true
		if ttl != -1 {
			live = ttl
			liveCount++
		}
	}
	if !seen {
		return -2, nil
	}
	if liveCount > 1 {
		return -1, nil
	}
	return live, nil
}

// --------------------------------------------------------------------------
// SCAN (spec.md §4.7, §9 Open Question)
// --------------------------------------------------------------------------

func matchGlob(pattern, s string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := globMatch([]byte(pattern), []byte(s))
	return err == nil && ok
}

func globMatch(pattern, s []byte) (bool, error) {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 1 && pattern[1] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 1 {
				return true, nil
			}
			for i := 0; i <= len(s); i++ {
				if ok, err := globMatch(pattern[1:], s[i:]); ok || err != nil {
					return ok, err
				}
			}
			return false, nil
		case '?':
			if len(s) == 0 {
				return false, nil
			}
			s = s[1:]
			pattern = pattern[1:]
		default:
			if len(s) == 0 || s[0] != pattern[0] {
				return false, nil
			}
			s = s[1:]
			pattern = pattern[1:]
		}
	}
	return len(s) == 0, nil
}

// scanStoreKeys walks storeIdx's meta column family from startKey (nil =
// beginning), collecting up to limit live keys matching pattern. It
// returns the next key to resume from and whether this store's keyspace
// was exhausted.
func (e *Engine) scanStoreKeys(storeIdx int, startKey []byte, pattern string, limit int) (keys []string, nextKey []byte, exhausted bool, err error) {
	store := e.stores[storeIdx]
	snap := store.NewSnapshot()
	defer snap.Close()
	iter := store.NewMetaIterator(snap)
	defer iter.Close()

	if startKey == nil {
		iter.SeekToFirst()
	} else {
		iter.Seek(startKey)
	}

	for ; iter.Valid() && len(keys) < limit; iter.Next() {
		k := iter.Key()
		if isLiveMeta(storeIdx, iter.Value()) && matchGlob(pattern, string(k)) {
			keys = append(keys, string(k))
		}
	}

	if !iter.Valid() {
		return keys, nil, true, iter.Error()
	}
	return keys, append([]byte{}, iter.Key()...), false, iter.Error()
}

// Scan implements the top-level SCAN: an opaque int64 cursor (0 = start)
// stitching together the five engines' meta keyspaces in canonical order
// (strings, hashes, sets, lists, zsets). The transition between types is
// an explicit step of this state machine, not an implicit fallthrough:
// once one engine's keyspace is exhausted, the next call resumes
// scanning at the head of the following engine in the same Scan call
// rather than returning a synthetic empty page (spec.md §4.7, §9).
//
// next is 0 when the scan has visited every type's keyspace. An
// unrecognized or evicted cursor restarts the scan at the beginning of
// the first engine (strings): the engine it pointed into is not known
// once its cache entry is gone.
func (e *Engine) Scan(cursor int64, pattern string, count int) (keys []string, next int64, err error) {
	if count <= 0 {
		count = 10
	}

	idx := 0
	var startKey []byte
	if cursor != 0 {
		if entry, ok := e.cursors.Get(cursor); ok {
			startKey = entry.NextKey
			idx = tagIndex(entry.Engine)
		}
	}

	for idx < len(e.stores) {
		remaining := count - len(keys)
		if remaining <= 0 {
			// The page filled exactly at a type boundary: hand back a
			// cursor that resumes at the head of engine idx.
			newCursor := e.cursorSeq.Add(1)
			e.cursors.Put(newCursor, lru.CursorEntry{Engine: engineTags[idx]})
			return keys, newCursor, nil
		}
		got, nextKey, exhausted, serr := e.scanStoreKeys(idx, startKey, pattern, remaining)
		if serr != nil {
			return nil, 0, serr
		}
		keys = append(keys, got...)
		if !exhausted {
			newCursor := e.cursorSeq.Add(1)
			e.cursors.Put(newCursor, lru.CursorEntry{NextKey: nextKey, Engine: engineTags[idx]})
			return keys, newCursor, nil
		}
		idx++
		startKey = nil
	}
	return keys, 0, nil
}

// --------------------------------------------------------------------------
// Background compaction worker (spec.md §4.7)
// --------------------------------------------------------------------------

// enqueueCleanAll schedules a full-range compaction of one engine's
// stores, used by a manual "compact all" operator command. There is no
// synthetic "ALL" task type or atomic queue-replace: internal/queue.MPSC
// is a lock-free append-only queue with no safe way to splice out or
// discard nodes a concurrent producer might be mid-CAS into (see
// DESIGN.md's "Background task queue" Open Question decision), so
// CompactAll below just enqueues one clean_all per typed engine.
func (e *Engine) enqueueCleanAll(engineType string) {
	e.enqueue(task{ID: uuid.New(), Type: engineType, Op: "clean_all"})
}

// enqueueCompactKey schedules a single-key compaction, raised by a typed
// engine's small-compaction heuristic (e.g. sets.SPop's needCompact
// return value).
func (e *Engine) enqueueCompactKey(engineType, key string) {
	e.enqueue(task{ID: uuid.New(), Type: engineType, Op: "compact_key", Arg: key})
}

func (e *Engine) enqueue(t task) {
	if !e.tasks.Push(&t) {
		log.Warningf("compaction task queue closed, dropping %s/%s for %q", t.Type, t.Op, t.Arg)
		return
	}
	metrics.SetCompactionQueueDepth(float64(e.tasks.Len()))
}

func (e *Engine) storeByName(name string) *kv.Store {
	for i, n := range engineNames {
		if n == name {
			return e.stores[i]
		}
	}
	return nil
}

// dataKeyUserPrefix returns the prefix shared by every data record of
// userKey across all versions (current and stale), used to bound a
// compact_key task's range over the data column family.
func dataKeyUserPrefix(userKey string) []byte {
	buf := make([]byte, codec.UserKeyPrefixLen(userKey))
	codec.PutUserKeyPrefix(buf, 0, userKey)
	return buf
}

func (e *Engine) runWorker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-e.tasks.Recv():
			if !ok {
				return
			}
			e.runTask(*t)
		}
	}
}

func (e *Engine) runTask(t task) {
	store := e.storeByName(t.Type)
	if store == nil {
		log.Warningf("compaction task %s for unknown engine %q ignored", t.ID, t.Type)
		return
	}
	switch t.Op {
	case "clean_all":
		if err := store.CompactRange(nil, nil); err != nil {
			log.Errorf("clean_all compaction %s failed for %s: %v", t.ID, t.Type, err)
		}
	case "compact_key":
		prefix := dataKeyUserPrefix(t.Arg)
		upper := codec.PrefixUpperBound(prefix)
		if err := store.CompactRange(prefix, upper); err != nil {
			log.Errorf("compact_key %s failed for %s/%q: %v", t.ID, t.Type, t.Arg, err)
		}
	default:
		log.Warningf("unknown compaction task op %q for %s (%s)", t.Op, t.Type, t.ID)
	}
}

// CompactAll enqueues a clean_all task for every typed engine, used by an
// operator-triggered full compaction (spec.md §6 "manual compaction").
func (e *Engine) CompactAll() {
	for _, name := range engineNames {
		e.enqueueCleanAll(name)
	}
}

// SPop implements SPOP and schedules a small compaction against the sets
// store when the per-key write-count heuristic crosses its threshold
// (spec.md §4.4), the one typed operation whose background-task trigger
// the top-level engine must observe directly.
func (e *Engine) SPop(key string) (string, bool, error) {
	member, found, needCompact, err := e.Sets.SPop(key)
	if needCompact {
		e.enqueueCompactKey("sets", key)
	}
	return member, found, err
}
