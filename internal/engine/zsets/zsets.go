// Package zsets implements the sorted-sets data-structure engine (spec.md
// §4.5): meta + dual by-member/by-score index encoding, with range
// queries by rank, score and lex, plus ZUNIONSTORE/ZINTERSTORE
// aggregation. This is the algorithmic heart of the module (spec.md's
// system-overview table gives it the largest single share): every
// mutation keeps both indices consistent in one write batch (spec.md
// §3.2 invariant 5).
package zsets

import (
	"math"
	"sort"
	"time"

	"github.com/justforfun1323/blackwidow/internal/codec"
	"github.com/justforfun1323/blackwidow/internal/kv"
	"github.com/justforfun1323/blackwidow/internal/lockmgr"
	"github.com/justforfun1323/blackwidow/internal/logging"
	"github.com/justforfun1323/blackwidow/internal/status"
	"github.com/justforfun1323/blackwidow/internal/version"
)

var log = logging.GetLogger("engine/zsets")

// Engine is the sorted-sets data-structure engine.
type Engine struct {
	store *kv.Store
	locks *lockmgr.Manager
}

// New constructs a sorted-sets engine over an already-open store.
func New(store *kv.Store, locks *lockmgr.Manager) *Engine {
	return &Engine{store: store, locks: locks}
}

func now() uint32 { return uint32(time.Now().Unix()) }

func (e *Engine) loadMeta(key string) (codec.ZSetMeta, bool, error) {
	raw, found, err := e.store.GetMeta(key)
	if err != nil || !found {
		return codec.ZSetMeta{}, false, err
	}
	m, err := codec.DecodeZSetMeta(raw)
	if err != nil {
		return codec.ZSetMeta{}, false, status.New(status.Corruption, "zsets: %s: %v", key, err)
	}
	if m.Timestamp != 0 && m.Timestamp <= now() || m.Count == 0 {
		return codec.ZSetMeta{}, false, nil
	}
	return m, true, nil
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

// memberScore returns the live score of member, if any.
func (e *Engine) memberScore(key string, version uint32, member string) (float64, bool, error) {
	raw, ok, err := e.store.GetData(codec.ZSetMemberKey(key, version, member))
	if err != nil || !ok {
		return 0, false, err
	}
	s, err := codec.DecodeScoreValue(raw)
	if err != nil {
		return 0, false, status.New(status.Corruption, "zsets: %s: bad score for %q: %v", key, member, err)
	}
	return s, true, nil
}

// --------------------------------------------------------------------------
// ZADD / ZINCRBY
// --------------------------------------------------------------------------

// ZAdd implements ZADD, returning the number of members newly added
// (members whose score only changed are not counted, matching spec.md
// §8 P6's "ZADD of identical (member, score) returns 0").
func (e *Engine) ZAdd(key string, members map[string]float64) (int, error) {
	for m, s := range members {
		if !codec.ValidScore(s) {
			return 0, status.New(status.InvalidArgument, "zsets: invalid score for member %q", m)
		}
	}

	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil {
		return 0, err
	}
	if !found {
		meta = codec.ZSetMeta{Version: version.Next32()}
	}

	batch := e.store.NewBatch()
	added := 0
	for member, score := range members {
		oldScore, existed, err := e.memberScore(key, meta.Version, member)
		if err != nil {
			return 0, err
		}
		if existed && oldScore == score {
			continue
		}
		if existed {
			batch.DeleteData(codec.ZSetScoreKey(key, meta.Version, oldScore, member))
		} else {
			meta.Count++
			added++
		}
		batch.PutData(codec.ZSetMemberKey(key, meta.Version, member), codec.EncodeScoreValue(score))
		batch.PutData(codec.ZSetScoreKey(key, meta.Version, score, member), []byte{})
	}
	batch.PutMeta(key, meta.Encode())
	return added, batch.Write()
}

// ZIncrBy implements ZINCRBY, returning the member's new score.
func (e *Engine) ZIncrBy(key, member string, delta float64) (float64, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil {
		return 0, err
	}
	if !found {
		meta = codec.ZSetMeta{Version: version.Next32()}
	}

	oldScore, existed, err := e.memberScore(key, meta.Version, member)
	if err != nil {
		return 0, err
	}
	newScore := oldScore + delta
	if !codec.ValidScore(newScore) {
		return 0, status.New(status.InvalidArgument, "zsets: resulting score is not a number")
	}

	batch := e.store.NewBatch()
	if existed {
		batch.DeleteData(codec.ZSetScoreKey(key, meta.Version, oldScore, member))
	} else {
		meta.Count++
	}
	batch.PutData(codec.ZSetMemberKey(key, meta.Version, member), codec.EncodeScoreValue(newScore))
	batch.PutData(codec.ZSetScoreKey(key, meta.Version, newScore, member), []byte{})
	batch.PutMeta(key, meta.Encode())
	return newScore, batch.Write()
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// ZCard implements ZCARD.
func (e *Engine) ZCard(key string) (int, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return 0, err
	}
	return int(meta.Count), nil
}

// ZScore implements ZSCORE.
func (e *Engine) ZScore(key, member string) (float64, bool, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return 0, false, err
	}
	return e.memberScore(key, meta.Version, member)
}

// scoreEntry is one (member, score) pair produced while walking the
// by-score index.
type scoreEntry struct {
	member string
	score  float64
}

// walkScoreIndex visits every live (member, score) pair of key in
// ascending by-score order, stopping early if fn returns false.
func (e *Engine) walkScoreIndex(key string, version uint32, fn func(scoreEntry) bool) error {
	snap := e.store.NewSnapshot()
	defer snap.Close()
	iter, err := e.store.NewDataIterator(snap)
	if err != nil {
		return err
	}
	defer iter.Close()

	prefix := codec.ZSetScoreKeyPrefix(key, version)
	upper := codec.PrefixUpperBound(prefix)
	for iter.Seek(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if upper != nil && compareBytes(k, upper) >= 0 {
			break
		}
		_, _, score, member, err := codec.DecodeZSetScoreKey(k)
		if err != nil {
			return status.New(status.Corruption, "zsets: bad score key: %v", err)
		}
		if !fn(scoreEntry{member: member, score: score}) {
			break
		}
	}
	return iter.Error()
}

// allEntries materializes every live (member, score) pair in ascending
// by-score order.
func (e *Engine) allEntries(key string) ([]scoreEntry, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return nil, err
	}
	var out []scoreEntry
	err = e.walkScoreIndex(key, meta.Version, func(se scoreEntry) bool {
		out = append(out, se)
		return true
	})
	return out, err
}

// ZRank implements ZRANK (rev=false) / ZREVRANK (rev=true): 0-based rank
// of member in ascending (or descending) score order.
func (e *Engine) ZRank(key, member string, rev bool) (int, bool, error) {
	entries, err := e.allEntries(key)
	if err != nil {
		return 0, false, err
	}
	for i, se := range entries {
		if se.member == member {
			if rev {
				return len(entries) - 1 - i, true, nil
			}
			return i, true, nil
		}
	}
	return 0, false, nil
}

func normalizeIndex(idx, n int) int {
	if idx < 0 {
		idx = n + idx
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// ZRange implements ZRANGE (rev=false) / ZREVRANGE (rev=true) by rank,
// Redis-style negative indices counting from the end.
func (e *Engine) ZRange(key string, start, stop int, rev bool) ([]string, []float64, error) {
	entries, err := e.allEntries(key)
	if err != nil {
		return nil, nil, err
	}
	n := len(entries)
	if n == 0 {
		return nil, nil, nil
	}
	start, stop = normalizeIndex(start, n), normalizeIndex(stop, n)
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil, nil
	}

	if rev {
		// reverse entries first so start/stop index from the high-score end
		reversed := make([]scoreEntry, n)
		for i, se := range entries {
			reversed[n-1-i] = se
		}
		entries = reversed
	}

	members := make([]string, 0, stop-start+1)
	scores := make([]float64, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		members = append(members, entries[i].member)
		scores = append(scores, entries[i].score)
	}
	return members, scores, nil
}

// ScoreBound encodes one endpoint of a ZRANGEBYSCORE/ZCOUNT query.
type ScoreBound struct {
	Value float64
	Open  bool // true = exclusive
}

// ZRangeByScore implements ZRANGEBYSCORE (rev=false) / ZREVRANGEBYSCORE
// (rev=true). -inf/+inf are valid endpoint values (spec.md §4.5).
func (e *Engine) ZRangeByScore(key string, min, max ScoreBound, rev bool, limit int) ([]string, []float64, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return nil, nil, err
	}

	var members []string
	var scores []float64
	err = e.walkScoreIndex(key, meta.Version, func(se scoreEntry) bool {
		if se.score < min.Value || (min.Open && se.score == min.Value) {
			return true
		}
		if se.score > max.Value || (max.Open && se.score == max.Value) {
			return false
		}
		members = append(members, se.member)
		scores = append(scores, se.score)
		return limit <= 0 || len(members) < limit
	})
	if err != nil {
		return nil, nil, err
	}
	if rev {
		reverseStrings(members)
		reverseFloats(scores)
	}
	return members, scores, nil
}

// ZCount implements ZCOUNT.
func (e *Engine) ZCount(key string, min, max ScoreBound) (int, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return 0, err
	}
	count := 0
	err = e.walkScoreIndex(key, meta.Version, func(se scoreEntry) bool {
		if se.score < min.Value || (min.Open && se.score == min.Value) {
			return true
		}
		if se.score > max.Value || (max.Open && se.score == max.Value) {
			return false
		}
		count++
		return true
	})
	return count, err
}

// LexBound encodes one endpoint of a ZRANGEBYLEX/ZLEXCOUNT query.
// Unbounded is true for the "-"/"+" sentinels.
type LexBound struct {
	Value       string
	Inclusive   bool
	Unbounded   bool
	IsUpperSide bool // which unbounded direction ("+"=true, "-"=false) this represents
}

func (b LexBound) below(member string) bool {
	if b.Unbounded {
		return !b.IsUpperSide // "-" (lower unbounded): nothing is below it
	}
	cmp := compareBytes([]byte(member), []byte(b.Value))
	if cmp < 0 {
		return true
	}
	if cmp == 0 {
		return !b.Inclusive
	}
	return false
}

func (b LexBound) above(member string) bool {
	if b.Unbounded {
		return b.IsUpperSide // "+" (upper unbounded): nothing is above it
	}
	cmp := compareBytes([]byte(member), []byte(b.Value))
	if cmp > 0 {
		return true
	}
	if cmp == 0 {
		return !b.Inclusive
	}
	return false
}

// ZRangeByLex implements ZRANGEBYLEX. Requires all scores equal per
// spec.md §4.5. When scores differ, the by-score index is still walked and
// members are filtered by the lex bounds, so the result comes out in
// (score, member) order: lexicographic only among members of equal score.
func (e *Engine) ZRangeByLex(key string, min, max LexBound, rev bool, limit int) ([]string, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return nil, err
	}
	var members []string
	err = e.walkScoreIndex(key, meta.Version, func(se scoreEntry) bool {
		if min.below(se.member) {
			return true
		}
		if max.above(se.member) {
			return true
		}
		members = append(members, se.member)
		return limit <= 0 || len(members) < limit
	})
	if err != nil {
		return nil, err
	}
	if rev {
		reverseStrings(members)
	}
	return members, nil
}

// ZLexCount implements ZLEXCOUNT.
func (e *Engine) ZLexCount(key string, min, max LexBound) (int, error) {
	members, err := e.ZRangeByLex(key, min, max, false, 0)
	return len(members), err
}

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func reverseFloats(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// --------------------------------------------------------------------------
// Removal
// --------------------------------------------------------------------------

// removeEntries deletes the given (member, score) pairs from both indices
// and rewrites the meta, returning the number removed.
func (e *Engine) removeEntries(key string, meta codec.ZSetMeta, entries []scoreEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	batch := e.store.NewBatch()
	for _, se := range entries {
		batch.DeleteData(codec.ZSetMemberKey(key, meta.Version, se.member))
		batch.DeleteData(codec.ZSetScoreKey(key, meta.Version, se.score, se.member))
	}
	meta.Count -= uint32(len(entries))
	batch.PutMeta(key, meta.Encode())
	if err := batch.Write(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// ZRem implements ZREM, returning the number of members actually removed.
func (e *Engine) ZRem(key string, members ...string) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return 0, err
	}
	var toRemove []scoreEntry
	for _, m := range members {
		score, ok, err := e.memberScore(key, meta.Version, m)
		if err != nil {
			return 0, err
		}
		if ok {
			toRemove = append(toRemove, scoreEntry{member: m, score: score})
		}
	}
	return e.removeEntries(key, meta, toRemove)
}

// ZRemRangeByRank implements ZREMRANGEBYRANK.
func (e *Engine) ZRemRangeByRank(key string, start, stop int) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return 0, err
	}
	var entries []scoreEntry
	err = e.walkScoreIndex(key, meta.Version, func(se scoreEntry) bool {
		entries = append(entries, se)
		return true
	})
	if err != nil {
		return 0, err
	}
	n := len(entries)
	start, stop = normalizeIndex(start, n), normalizeIndex(stop, n)
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, nil
	}
	return e.removeEntries(key, meta, entries[start:stop+1])
}

// ZRemRangeByScore implements ZREMRANGEBYSCORE.
func (e *Engine) ZRemRangeByScore(key string, min, max ScoreBound) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return 0, err
	}
	var toRemove []scoreEntry
	err = e.walkScoreIndex(key, meta.Version, func(se scoreEntry) bool {
		if se.score < min.Value || (min.Open && se.score == min.Value) {
			return true
		}
		if se.score > max.Value || (max.Open && se.score == max.Value) {
			return false
		}
		toRemove = append(toRemove, se)
		return true
	})
	if err != nil {
		return 0, err
	}
	return e.removeEntries(key, meta, toRemove)
}

// ZRemRangeByLex implements ZREMRANGEBYLEX.
func (e *Engine) ZRemRangeByLex(key string, min, max LexBound) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return 0, err
	}
	var toRemove []scoreEntry
	err = e.walkScoreIndex(key, meta.Version, func(se scoreEntry) bool {
		if min.below(se.member) || max.above(se.member) {
			return true
		}
		toRemove = append(toRemove, se)
		return true
	})
	if err != nil {
		return 0, err
	}
	return e.removeEntries(key, meta, toRemove)
}

// ZPopMin implements ZPOPMIN: pops up to count lowest-score members.
func (e *Engine) ZPopMin(key string, count int) ([]string, []float64, error) {
	return e.zPop(key, count, false)
}

// ZPopMax implements ZPOPMAX: pops up to count highest-score members.
func (e *Engine) ZPopMax(key string, count int) ([]string, []float64, error) {
	return e.zPop(key, count, true)
}

func (e *Engine) zPop(key string, count int, fromMax bool) ([]string, []float64, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return nil, nil, err
	}
	var entries []scoreEntry
	err = e.walkScoreIndex(key, meta.Version, func(se scoreEntry) bool {
		entries = append(entries, se)
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	if fromMax {
		reversedEntries := make([]scoreEntry, len(entries))
		for i, se := range entries {
			reversedEntries[len(entries)-1-i] = se
		}
		entries = reversedEntries
	}
	if count > len(entries) {
		count = len(entries)
	}
	popped := entries[:count]
	if _, err := e.removeEntries(key, meta, popped); err != nil {
		return nil, nil, err
	}
	members := make([]string, count)
	scores := make([]float64, count)
	for i, se := range popped {
		members[i] = se.member
		scores[i] = se.score
	}
	return members, scores, nil
}

// --------------------------------------------------------------------------
// ZUNIONSTORE / ZINTERSTORE
// --------------------------------------------------------------------------

// Aggregate selects how ZUNIONSTORE/ZINTERSTORE combine weighted scores
// for a member present in more than one source (spec.md §4.5).
type Aggregate int

const (
	AggSum Aggregate = iota
	AggMin
	AggMax
)

func (a Aggregate) combine(acc float64, seen bool, v float64) float64 {
	if !seen {
		return v
	}
	switch a {
	case AggMin:
		return math.Min(acc, v)
	case AggMax:
		return math.Max(acc, v)
	default:
		return acc + v
	}
}

// sourceEntries returns the live (member -> score) map of one source key.
// Only sorted sets are read: a key that is missing from this engine (for
// example one holding a plain set) contributes an empty map.
func (e *Engine) sourceEntries(key string) (map[string]float64, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return map[string]float64{}, err
	}
	out := map[string]float64{}
	err = e.walkScoreIndex(key, meta.Version, func(se scoreEntry) bool {
		out[se.member] = se.score
		return true
	})
	return out, err
}

// storeAggregated overwrites dest with the given member->score map.
func (e *Engine) storeAggregated(dest string, result map[string]float64) (int, error) {
	e.locks.Lock(dest)
	defer e.locks.Unlock(dest)

	meta := codec.ZSetMeta{Version: version.Next32()}
	members := make([]string, 0, len(result))
	for m := range result {
		members = append(members, m)
	}
	sort.Strings(members)

	batch := e.store.NewBatch()
	for _, m := range members {
		score := result[m]
		batch.PutData(codec.ZSetMemberKey(dest, meta.Version, m), codec.EncodeScoreValue(score))
		batch.PutData(codec.ZSetScoreKey(dest, meta.Version, score, m), []byte{})
	}
	meta.Count = uint32(len(members))
	batch.PutMeta(dest, meta.Encode())
	if err := batch.Write(); err != nil {
		return 0, err
	}
	return len(members), nil
}

// ZUnionStore implements ZUNIONSTORE: weighted union, missing members in
// a union contribute 0 after weighting (spec.md §4.5).
func (e *Engine) ZUnionStore(dest string, keys []string, weights []float64, agg Aggregate) (int, error) {
	result := map[string]float64{}
	seen := map[string]int{} // number of sources each member appeared in
	for i, k := range keys {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		entries, err := e.sourceEntries(k)
		if err != nil {
			return 0, err
		}
		for m, s := range entries {
			result[m] = agg.combine(result[m], seen[m] > 0, s*w)
			seen[m]++
		}
	}
	for m, n := range seen {
		if n < len(keys) {
			result[m] = agg.combine(result[m], true, 0)
		}
	}
	return e.storeAggregated(dest, result)
}

// ZInterStore implements ZINTERSTORE: only members present in every
// source survive.
func (e *Engine) ZInterStore(dest string, keys []string, weights []float64, agg Aggregate) (int, error) {
	if len(keys) == 0 {
		return e.storeAggregated(dest, map[string]float64{})
	}
	sourceSets := make([]map[string]float64, len(keys))
	for i, k := range keys {
		entries, err := e.sourceEntries(k)
		if err != nil {
			return 0, err
		}
		sourceSets[i] = entries
	}

	result := map[string]float64{}
	for m, s0 := range sourceSets[0] {
		w0 := 1.0
		if len(weights) > 0 {
			w0 = weights[0]
		}
		acc := s0 * w0
		inAll := true
		for i := 1; i < len(sourceSets); i++ {
			s, ok := sourceSets[i][m]
			if !ok {
				inAll = false
				break
			}
			w := 1.0
			if i < len(weights) {
				w = weights[i]
			}
			acc = agg.combine(acc, true, s*w)
		}
		if inAll {
			result[m] = acc
		}
	}
	return e.storeAggregated(dest, result)
}

// --------------------------------------------------------------------------
// ZSCAN
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

// ZScan implements ZSCAN: cursor (a member to resume from) plus a glob
// pattern, returning up to count (member, score) pairs and the next
// cursor ("" = done). Iterates the by-member index, same shape as
// HSCAN/SSCAN.
func (e *Engine) ZScan(key, cursor, pattern string, count int) (members []string, scores []float64, next string, err error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return nil, nil, "", err
	}
	snap := e.store.NewSnapshot()
	defer snap.Close()
	iter, err := e.store.NewDataIterator(snap)
	if err != nil {
		return nil, nil, "", err
	}
	defer iter.Close()

	prefix := codec.ZSetMemberKeyPrefix(key, meta.Version)
	upper := codec.PrefixUpperBound(prefix)

	seekKey := prefix
	if cursor != "" {
		seekKey = codec.ZSetMemberKey(key, meta.Version, cursor)
	}

	scanned := 0
	for iter.Seek(seekKey); iter.Valid(); iter.Next() {
		k := iter.Key()
		if upper != nil && compareBytes(k, upper) >= 0 {
			next = ""
			break
		}
		_, _, member, derr := codec.DecodeZSetMemberKey(k)
		if derr != nil {
			return nil, nil, "", status.New(status.Corruption, "zsets: bad member key: %v", derr)
		}
		if matchGlob(pattern, member) {
			score, derr := codec.DecodeScoreValue(iter.Value())
			if derr != nil {
				return nil, nil, "", status.New(status.Corruption, "zsets: bad score value: %v", derr)
			}
			members = append(members, member)
			scores = append(scores, score)
		}
		scanned++
		if scanned >= count {
			iter.Next()
			if iter.Valid() && (upper == nil || compareBytes(iter.Key(), upper) < 0) {
				_, _, nm, _ := codec.DecodeZSetMemberKey(iter.Key())
				next = nm
			}
			break
		}
	}
	return members, scores, next, iter.Error()
}

// --------------------------------------------------------------------------
// Lifecycle (Exists/Del/Type/Expire/TTL)
// --------------------------------------------------------------------------

// Exists reports whether key has a live sorted set.
func (e *Engine) Exists(key string) (bool, error) {
	_, found, err := e.loadMeta(key)
	return found, err
}

// Del deletes key's sorted set.
func (e *Engine) Del(key string) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)
	_, found, err := e.loadMeta(key)
	if err != nil || !found {
		return false, err
	}
	return true, e.store.PutMeta(key, codec.ZSetMeta{Version: version.Next32()}.Encode())
}

// Type returns "zset" if key has a live sorted set, else "".
func (e *Engine) Type(key string) (string, error) {
	_, found, err := e.loadMeta(key)
	if err != nil || !found {
		return "", err
	}
	return "zset", nil
}

// Expire sets a relative TTL in seconds on an existing sorted-set key.
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
