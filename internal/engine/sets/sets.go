// Package sets implements the sets data-structure engine (spec.md §4.4):
// meta + member-index encoding, SADD/SPOP/SDIFF and friends, plus the
// SPOP-driven small-compaction heuristic lifted from
// _examples/original_source/src/redis_sets.cc's SPop/AddAndGetSpopCount.
package sets

import (
	"math/rand"
	"sync"
	"time"

	"github.com/justforfun1323/blackwidow/internal/codec"
	"github.com/justforfun1323/blackwidow/internal/kv"
	"github.com/justforfun1323/blackwidow/internal/lockmgr"
	"github.com/justforfun1323/blackwidow/internal/logging"
	"github.com/justforfun1323/blackwidow/internal/lru"
	"github.com/justforfun1323/blackwidow/internal/metrics"
	"github.com/justforfun1323/blackwidow/internal/status"
	"github.com/justforfun1323/blackwidow/internal/version"
)

var log = logging.GetLogger("engine/sets")

// Small-compaction trigger thresholds, following redis_sets.cc's SPop
// (the constants themselves are not present in the retrieved source, so
// these are chosen to match the same order of magnitude: a handful of
// pops per second on a hot key, or enough accumulated deletes, schedules
// a compaction).
const (
	smallCompactThresholdCount    = 500
	smallCompactThresholdDuration = 10 * time.Second
)

// Engine is the sets data-structure engine.
type Engine struct {
	store *kv.Store
	locks *lockmgr.Manager
	stats *lru.WriteCountCache

	lastCompactMu sync.Mutex
	lastCompactAt map[string]time.Time
}

// New constructs a sets engine over an already-open store.
func New(store *kv.Store, locks *lockmgr.Manager, statsCapacity int) *Engine {
	return &Engine{
		store:         store,
		locks:         locks,
		stats:         lru.NewWriteCountCache(statsCapacity),
		lastCompactAt: map[string]time.Time{},
	}
}

func now() uint32 { return uint32(time.Now().Unix()) }

func (e *Engine) loadMeta(key string) (codec.SetMeta, bool, error) {
	raw, found, err := e.store.GetMeta(key)
	if err != nil || !found {
		return codec.SetMeta{}, false, err
	}
	m, err := codec.DecodeSetMeta(raw)
	if err != nil {
		return codec.SetMeta{}, false, status.New(status.Corruption, "sets: %s: %v", key, err)
	}
	if m.Timestamp != 0 && m.Timestamp <= now() || m.Count == 0 {
		return codec.SetMeta{}, false, nil
	}
	return m, true, nil
}

// SAdd implements SADD, returning the number of members actually added.
func (e *Engine) SAdd(key string, members ...string) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil {
		return 0, err
	}
	if !found {
		meta = codec.SetMeta{Version: version.Next32()}
	}

	batch := e.store.NewBatch()
	added := 0
	for _, member := range members {
		dataKey := codec.SetDataKey(key, meta.Version, member)
		_, existed, err := e.store.GetData(dataKey)
		if err != nil {
			return 0, err
		}
		if existed {
			continue
		}
		batch.PutData(dataKey, []byte{})
		meta.Count++
		added++
	}
	if added == 0 {
		return 0, nil
	}
	batch.PutMeta(key, meta.Encode())
	return added, batch.Write()
}

// SCard implements SCARD.
func (e *Engine) SCard(key string) (int, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return 0, err
	}
	return int(meta.Count), nil
}

// SIsMember implements SISMEMBER.
func (e *Engine) SIsMember(key, member string) (bool, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return false, err
	}
	_, ok, err := e.store.GetData(codec.SetDataKey(key, meta.Version, member))
	return ok, err
}

// members returns every live member of key, in member order.
func (e *Engine) members(key string) ([]string, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return nil, err
	}
	snap := e.store.NewSnapshot()
	defer snap.Close()
	iter, err := e.store.NewDataIterator(snap)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	prefix := codec.SetDataKeyPrefix(key, meta.Version)
	upper := codec.PrefixUpperBound(prefix)
	var out []string
	for iter.Seek(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if upper != nil && compareBytes(k, upper) >= 0 {
			break
		}
		_, _, member, err := codec.DecodeSetDataKey(k)
		if err != nil {
			return nil, status.New(status.Corruption, "sets: bad data key: %v", err)
		}
		out = append(out, member)
	}
	return out, iter.Error()
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// SMembers implements SMEMBERS.
func (e *Engine) SMembers(key string) ([]string, error) {
	return e.members(key)
}

// SMove implements SMOVE: atomically moves member from src to dst,
// locking both keys in lexicographic order (spec.md §3.2 invariant 7).
func (e *Engine) SMove(src, dst, member string) (bool, error) {
	token, ordered := e.locks.LockMulti(src, dst)
	defer e.locks.UnlockMulti(token)
	_ = ordered

	srcMeta, found, err := e.loadMeta(src)
	if err != nil || !found {
		return false, err
	}
	srcDataKey := codec.SetDataKey(src, srcMeta.Version, member)
	_, existed, err := e.store.GetData(srcDataKey)
	if err != nil || !existed {
		return false, err
	}

	// Moving a member to the set it's already in is a no-op, matching
	// real Redis's smoveCommand: src and dst resolve to the same
	// meta/data keys here, so falling through would delete member via
	// the src branch and then skip re-adding it because dstExisted.
	if src == dst {
		return true, nil
	}

	dstMeta, found, err := e.loadMeta(dst)
	if err != nil {
		return false, err
	}
	if !found {
		dstMeta = codec.SetMeta{Version: version.Next32()}
	}
	dstDataKey := codec.SetDataKey(dst, dstMeta.Version, member)
	_, dstExisted, err := e.store.GetData(dstDataKey)
	if err != nil {
		return false, err
	}

	batch := e.store.NewBatch()
	batch.DeleteData(srcDataKey)
	srcMeta.Count--
	batch.PutMeta(src, srcMeta.Encode())

	if !dstExisted {
		batch.PutData(dstDataKey, []byte{})
		dstMeta.Count++
		batch.PutMeta(dst, dstMeta.Encode())
	}
	return true, batch.Write()
}

// SetOpKind distinguishes the three set-algebra operations.
type SetOpKind int

const (
	SetDiff SetOpKind = iota
	SetInter
	SetUnion
)

// setOp computes the named operation over keys' live members.
func (e *Engine) setOp(op SetOpKind, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	sets := make([]map[string]bool, len(keys))
	for i, k := range keys {
		members, err := e.members(k)
		if err != nil {
			return nil, err
		}
		m := make(map[string]bool, len(members))
		for _, mem := range members {
			m[mem] = true
		}
		sets[i] = m
	}

	result := map[string]bool{}
	switch op {
	case SetUnion:
		for _, s := range sets {
			for mem := range s {
				result[mem] = true
			}
		}
	case SetInter:
		for mem := range sets[0] {
			inAll := true
			for _, s := range sets[1:] {
				if !s[mem] {
					inAll = false
					break
				}
			}
			if inAll {
				result[mem] = true
			}
		}
	case SetDiff:
		for mem := range sets[0] {
			inOther := false
			for _, s := range sets[1:] {
				if s[mem] {
					inOther = true
					break
				}
			}
			if !inOther {
				result[mem] = true
			}
		}
	}

	out := make([]string, 0, len(result))
	for mem := range result {
		out = append(out, mem)
	}
	return out, nil
}

// SDiff implements SDIFF.
func (e *Engine) SDiff(keys ...string) ([]string, error) { return e.setOp(SetDiff, keys) }

// SInter implements SINTER.
func (e *Engine) SInter(keys ...string) ([]string, error) { return e.setOp(SetInter, keys) }

// SUnion implements SUNION.
func (e *Engine) SUnion(keys ...string) ([]string, error) { return e.setOp(SetUnion, keys) }

// storeResult overwrites dest with members, used by the *STORE variants.
func (e *Engine) storeResult(dest string, members []string) (int, error) {
	e.locks.Lock(dest)
	defer e.locks.Unlock(dest)

	meta := codec.SetMeta{Version: version.Next32()}
	batch := e.store.NewBatch()
	for _, m := range members {
		batch.PutData(codec.SetDataKey(dest, meta.Version, m), []byte{})
	}
	meta.Count = uint32(len(members))
	batch.PutMeta(dest, meta.Encode())
	if err := batch.Write(); err != nil {
		return 0, err
	}
	return len(members), nil
}

// SDiffStore implements SDIFFSTORE.
func (e *Engine) SDiffStore(dest string, keys ...string) (int, error) {
	members, err := e.SDiff(keys...)
	if err != nil {
		return 0, err
	}
	return e.storeResult(dest, members)
}

// SInterStore implements SINTERSTORE.
func (e *Engine) SInterStore(dest string, keys ...string) (int, error) {
	members, err := e.SInter(keys...)
	if err != nil {
		return 0, err
	}
	return e.storeResult(dest, members)
}

// SUnionStore implements SUNIONSTORE.
func (e *Engine) SUnionStore(dest string, keys ...string) (int, error) {
	members, err := e.SUnion(keys...)
	if err != nil {
		return 0, err
	}
	return e.storeResult(dest, members)
}

// SRem implements SREM, returning the number of members actually removed.
func (e *Engine) SRem(key string, members ...string) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return 0, err
	}

	batch := e.store.NewBatch()
	removed := 0
	for _, m := range members {
		dataKey := codec.SetDataKey(key, meta.Version, m)
		_, ok, err := e.store.GetData(dataKey)
		if err != nil {
			return 0, err
		}
		if ok {
			batch.DeleteData(dataKey)
			meta.Count--
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	batch.PutMeta(key, meta.Encode())
	return removed, batch.Write()
}

// SPop implements SPOP: removes and returns one random member, choosing
// uniformly among the first min(count, 50) members encountered from the
// start of the set (redis_sets.cc's SPop capped-offset scheme, spec.md
// is silent on distribution). needCompact reports whether this key has
// crossed the small-compaction threshold and should be queued for a
// background CompactRange by the caller.
func (e *Engine) SPop(key string) (member string, found bool, needCompact bool, err error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, ok, err := e.loadMeta(key)
	if err != nil || !ok {
		return "", false, false, err
	}

	size := int(meta.Count)
	targetIndex := 0
	if size > 0 {
		bound := size
		if bound > 50 {
			bound = 50
		}
		targetIndex = rand.Intn(bound)
	}

	snap := e.store.NewSnapshot()
	iter, err := e.store.NewDataIterator(snap)
	if err != nil {
		snap.Close()
		return "", false, false, err
	}

	prefix := codec.SetDataKeyPrefix(key, meta.Version)
	var popKey []byte
	curIdx := 0
	for iter.Seek(prefix); iter.Valid() && curIdx < size; iter.Next() {
		if curIdx == targetIndex {
			popKey = append([]byte{}, iter.Key()...)
			break
		}
		curIdx++
	}
	iter.Close()
	snap.Close()

	if popKey == nil {
		return "", false, false, nil
	}
	_, _, popMember, err := codec.DecodeSetDataKey(popKey)
	if err != nil {
		return "", false, false, status.New(status.Corruption, "sets: bad data key: %v", err)
	}

	batch := e.store.NewBatch()
	batch.DeleteData(popKey)
	meta.Count--
	batch.PutMeta(key, meta.Encode())
	if err := batch.Write(); err != nil {
		return "", false, false, err
	}

	needCompact = e.trackSpop(key)
	return popMember, true, needCompact, nil
}

// trackSpop records a pop against key's write-count cache and reports
// whether either small-compaction threshold has been crossed, resetting
// the counter if so.
func (e *Engine) trackSpop(key string) bool {
	count := e.stats.Increment(key)

	e.lastCompactMu.Lock()
	last, seen := e.lastCompactAt[key]
	duration := time.Duration(0)
	if seen {
		duration = time.Since(last)
	}
	e.lastCompactMu.Unlock()

	if count >= smallCompactThresholdCount || (seen && duration >= smallCompactThresholdDuration) {
		e.stats.Reset(key)
		e.lastCompactMu.Lock()
		e.lastCompactAt[key] = time.Now()
		e.lastCompactMu.Unlock()
		metrics.SmallCompactionsTriggered.Inc()
		return true
	}
	if !seen {
		e.lastCompactMu.Lock()
		e.lastCompactAt[key] = time.Now()
		e.lastCompactMu.Unlock()
	}
	return false
}

// SRandMember implements SRANDMEMBER. A positive count returns up to
// count distinct members; a negative count returns exactly -count
// members, possibly with repeats.
func (e *Engine) SRandMember(key string, count int) ([]string, error) {
	all, err := e.members(key)
	if err != nil || len(all) == 0 {
		return nil, err
	}

	if count >= 0 {
		if count > len(all) {
			count = len(all)
		}
		perm := rand.Perm(len(all))[:count]
		out := make([]string, count)
		for i, idx := range perm {
			out[i] = all[idx]
		}
		return out, nil
	}

	n := -count
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = all[rand.Intn(len(all))]
	}
	return out, nil
}

// SScan implements SSCAN: cursor (a member to resume from) plus a glob
// pattern, returning up to count members and the next cursor ("" = done).
func (e *Engine) SScan(key, cursor, pattern string, count int) (members []string, next string, err error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return nil, "", err
	}
	snap := e.store.NewSnapshot()
	defer snap.Close()
	iter, err := e.store.NewDataIterator(snap)
	if err != nil {
		return nil, "", err
	}
	defer iter.Close()

	prefix := codec.SetDataKeyPrefix(key, meta.Version)
	upper := codec.PrefixUpperBound(prefix)

	seekKey := prefix
	if cursor != "" {
		seekKey = codec.SetDataKey(key, meta.Version, cursor)
	}

	scanned := 0
	for iter.Seek(seekKey); iter.Valid(); iter.Next() {
		k := iter.Key()
		if upper != nil && compareBytes(k, upper) >= 0 {
			next = ""
			break
		}
		_, _, member, derr := codec.DecodeSetDataKey(k)
		if derr != nil {
			return nil, "", status.New(status.Corruption, "sets: bad data key: %v", derr)
		}
		if matchGlob(pattern, member) {
			members = append(members, member)
		}
		scanned++
		if scanned >= count {
			iter.Next()
			if iter.Valid() && (upper == nil || compareBytes(iter.Key(), upper) < 0) {
				_, _, nm, _ := codec.DecodeSetDataKey(iter.Key())
				next = nm
			}
			break
		}
	}
	return members, next, iter.Error()
}

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

// Exists reports whether key has a live set.
func (e *Engine) Exists(key string) (bool, error) {
	_, found, err := e.loadMeta(key)
	return found, err
}

// Del deletes key's set.
func (e *Engine) Del(key string) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)
	_, found, err := e.loadMeta(key)
	if err != nil || !found {
		return false, err
	}
	return true, e.store.PutMeta(key, codec.SetMeta{Version: version.Next32()}.Encode())
}

// Type returns "set" if key has a live set, else "".
func (e *Engine) Type(key string) (string, error) {
	_, found, err := e.loadMeta(key)
	if err != nil || !found {
		return "", err
	}
	return "set", nil
}

// Expire sets a relative TTL in seconds on an existing set key.
func (e *Engine) Expire(key string, seconds uint32) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return false, err
	}
	meta.Timestamp = now() + seconds
	return true, e.store.PutMeta(key, meta.Encode())
}

// TTL returns seconds until expiration, -1 if no TTL, -2 if absent.
func (e *Engine) TTL(key string) (int64, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil {
		return 0, err
	}
	if !found {
		return -2, nil
	}
	if meta.Timestamp == 0 {
		return -1, nil
	}
	remaining := int64(meta.Timestamp) - int64(now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
