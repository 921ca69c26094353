// Package lists implements the lists data-structure engine (spec.md
// §4.6): meta + doubly-indexed sequence encoding with a gap-reserving
// insert scheme, so head/tail pushes are O(1) amortized and LINSERT
// never has to renumber the whole list.
package lists

import (
	"time"

	"github.com/justforfun1323/blackwidow/internal/codec"
	"github.com/justforfun1323/blackwidow/internal/kv"
	"github.com/justforfun1323/blackwidow/internal/lockmgr"
	"github.com/justforfun1323/blackwidow/internal/logging"
	"github.com/justforfun1323/blackwidow/internal/status"
	"github.com/justforfun1323/blackwidow/internal/version"
)

var log = logging.GetLogger("engine/lists")

// Engine is the lists data-structure engine.
type Engine struct {
	store *kv.Store
	locks *lockmgr.Manager
}

// New constructs a lists engine over an already-open store.
func New(store *kv.Store, locks *lockmgr.Manager) *Engine {
	return &Engine{store: store, locks: locks}
}

func now() uint32 { return uint32(time.Now().Unix()) }

// emptyMeta is the sentinel (LeftIndex, RightIndex) pair for a list with
// no elements: RightIndex < LeftIndex signals emptiness, and the first
// push (from either end) converges both indices onto the single new
// element's index (spec.md §4.6).
func emptyMeta() codec.ListMeta {
	return codec.ListMeta{Version: version.Next(), LeftIndex: 1, RightIndex: 0}
}

func (e *Engine) loadMeta(key string) (codec.ListMeta, bool, error) {
	raw, found, err := e.store.GetMeta(key)
	if err != nil || !found {
		return codec.ListMeta{}, false, err
	}
	m, err := codec.DecodeListMeta(raw)
	if err != nil {
		return codec.ListMeta{}, false, status.New(status.Corruption, "lists: %s: %v", key, err)
	}
	if m.Timestamp != 0 && m.Timestamp <= now() || m.Count == 0 {
		return codec.ListMeta{}, false, nil
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

// --------------------------------------------------------------------------
// LPUSH / RPUSH
// --------------------------------------------------------------------------

// push appends values (in argument order) to the left or right end of
// key's list, returning the new length. Each new element's index is
// allocated strictly outside the current [LeftIndex, RightIndex] span
// (spec.md §4.6): LPUSH allocates LeftIndex-1, LeftIndex-2, ...; RPUSH
// allocates RightIndex+1, RightIndex+2, ....
func (e *Engine) push(key string, values [][]byte, atLeft bool) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil {
		return 0, err
	}
	if !found {
		meta = emptyMeta()
	}

	batch := e.store.NewBatch()
	for _, v := range values {
		var idx int64
		if atLeft {
			idx = meta.LeftIndex - 1
		} else {
			idx = meta.RightIndex + 1
		}
		batch.PutData(codec.ListDataKey(key, meta.Version, idx), v)
		if meta.Count == 0 {
			meta.LeftIndex, meta.RightIndex = idx, idx
		} else if atLeft {
			meta.LeftIndex = idx
		} else {
			meta.RightIndex = idx
		}
		meta.Count++
	}
	batch.PutMeta(key, meta.Encode())
	return int(meta.Count), batch.Write()
}

// LPush implements LPUSH.
func (e *Engine) LPush(key string, values ...[]byte) (int, error) {
	return e.push(key, values, true)
}

// RPush implements RPUSH.
func (e *Engine) RPush(key string, values ...[]byte) (int, error) {
	return e.push(key, values, false)
}

// LPushX implements LPUSHX: only pushes if the key already holds a list.
func (e *Engine) LPushX(key string, values ...[]byte) (int, error) {
	if ok, err := e.Exists(key); err != nil || !ok {
		return 0, err
	}
	return e.push(key, values, true)
}

// RPushX implements RPUSHX.
func (e *Engine) RPushX(key string, values ...[]byte) (int, error) {
	if ok, err := e.Exists(key); err != nil || !ok {
		return 0, err
	}
	return e.push(key, values, false)
}

// --------------------------------------------------------------------------
// LPOP / RPOP
// --------------------------------------------------------------------------

// pop removes and returns up to count elements from the left or right end.
func (e *Engine) pop(key string, count int, fromLeft bool) ([][]byte, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return nil, err
	}

	snap := e.store.NewSnapshot()
	iter, err := e.store.NewDataIterator(snap)
	if err != nil {
		snap.Close()
		return nil, err
	}

	var keys [][]byte
	var out [][]byte
	if fromLeft {
		start := codec.ListDataKey(key, meta.Version, meta.LeftIndex)
		for iter.Seek(start); iter.Valid() && len(out) < count && uint64(len(out)) < meta.Count; iter.Next() {
			out = append(out, append([]byte{}, iter.Value()...))
			keys = append(keys, append([]byte{}, iter.Key()...))
		}
	} else {
		start := codec.ListDataKey(key, meta.Version, meta.RightIndex)
		for iter.SeekForPrev(start); iter.Valid() && len(out) < count && uint64(len(out)) < meta.Count; iter.Prev() {
			out = append(out, append([]byte{}, iter.Value()...))
			keys = append(keys, append([]byte{}, iter.Key()...))
		}
	}
	iter.Close()
	snap.Close()

	if len(out) == 0 {
		return nil, nil
	}

	batch := e.store.NewBatch()
	for _, k := range keys {
		batch.DeleteData(k)
	}
	meta.Count -= uint64(len(out))
	if meta.Count == 0 {
		batch.PutMeta(key, emptyMeta().Encode())
	} else {
		_, _, lastIdx, err := codec.DecodeListDataKey(keys[len(keys)-1])
		if err != nil {
			return nil, status.New(status.Corruption, "lists: bad data key: %v", err)
		}
		if fromLeft {
			meta.LeftIndex = lastIdx + 1
		} else {
			meta.RightIndex = lastIdx - 1
		}
		batch.PutMeta(key, meta.Encode())
	}
	return out, batch.Write()
}

// LPop implements LPOP.
func (e *Engine) LPop(key string, count int) ([][]byte, error) { return e.pop(key, count, true) }

// RPop implements RPOP.
func (e *Engine) RPop(key string, count int) ([][]byte, error) { return e.pop(key, count, false) }

// --------------------------------------------------------------------------
// LRANGE / LINDEX / LLEN
// --------------------------------------------------------------------------

// allElements materializes the live list in head-to-tail order.
func (e *Engine) allElements(key string) (codec.ListMeta, [][]byte, []int64, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return meta, nil, nil, err
	}
	snap := e.store.NewSnapshot()
	defer snap.Close()
	iter, err := e.store.NewDataIterator(snap)
	if err != nil {
		return meta, nil, nil, err
	}
	defer iter.Close()

	prefix := codec.ListDataKeyPrefix(key, meta.Version)
	upper := codec.PrefixUpperBound(prefix)
	var values [][]byte
	var idxs []int64
	for iter.Seek(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if upper != nil && compareBytes(k, upper) >= 0 {
			break
		}
		_, _, idx, err := codec.DecodeListDataKey(k)
		if err != nil {
			return meta, nil, nil, status.New(status.Corruption, "lists: bad data key: %v", err)
		}
		values = append(values, iter.Value())
		idxs = append(idxs, idx)
	}
	return meta, values, idxs, iter.Error()
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

// LRange implements LRANGE; Redis-style negative indices count from the
// tail. It reads the whole list through allElements and slices the result;
// it does not seek to encoded index bounds.
func (e *Engine) LRange(key string, start, stop int) ([][]byte, error) {
	_, values, _, err := e.allElements(key)
	if err != nil {
		return nil, err
	}
	n := len(values)
	if n == 0 {
		return nil, nil
	}
	start, stop = normalizeIndex(start, n), normalizeIndex(stop, n)
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	return values[start : stop+1], nil
}

// LIndex implements LINDEX.
func (e *Engine) LIndex(key string, index int) ([]byte, bool, error) {
	_, values, _, err := e.allElements(key)
	if err != nil {
		return nil, false, err
	}
	n := len(values)
	if n == 0 {
		return nil, false, nil
	}
	index = normalizeIndex(index, n)
	if index >= n {
		return nil, false, nil
	}
	return values[index], true, nil
}

// LLen implements LLEN.
func (e *Engine) LLen(key string) (int, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return 0, err
	}
	return int(meta.Count), nil
}

// LSet implements LSET: overwrites the element at index.
func (e *Engine) LSet(key string, index int, value []byte) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, _, idxs, err := e.allElements(key)
	if err != nil {
		return false, err
	}
	n := len(idxs)
	if n == 0 {
		return false, nil
	}
	index = normalizeIndex(index, n)
	if index >= n {
		return false, nil
	}
	batch := e.store.NewBatch()
	batch.PutData(codec.ListDataKey(key, meta.Version, idxs[index]), value)
	return true, batch.Write()
}

// --------------------------------------------------------------------------
// LINSERT
// --------------------------------------------------------------------------

// LInsert implements LINSERT BEFORE/AFTER. It walks from the head
// searching for pivot, then assigns the new element an index bisecting
// the gap to the neighboring element on the insert side; spec.md §4.6
// explicitly does not require renumbering, deferring pathological fills
// (no room left to bisect) to a full rewrite.
func (e *Engine) LInsert(key string, before bool, pivot, value []byte) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, values, idxs, err := e.allElements(key)
	if err != nil {
		return -1, err
	}
	n := len(values)
	if n == 0 {
		return 0, nil
	}

	pos := -1
	for i, v := range values {
		if compareBytes(v, pivot) == 0 {
			pos = i
			break
		}
	}
	if pos == -1 {
		return -1, nil
	}

	var newIdx int64
	if before {
		var leftNeighbor int64
		if pos == 0 {
			leftNeighbor = idxs[0] - 2
		} else {
			leftNeighbor = idxs[pos-1]
		}
		newIdx = bisect(leftNeighbor, idxs[pos])
	} else {
		var rightNeighbor int64
		if pos == n-1 {
			rightNeighbor = idxs[n-1] + 2
		} else {
			rightNeighbor = idxs[pos+1]
		}
		newIdx = bisect(idxs[pos], rightNeighbor)
	}

	if needsRenumber(idxs, pos, before, newIdx) {
		return e.renumberAndInsert(key, meta, values, idxs, pos, before, value)
	}

	batch := e.store.NewBatch()
	batch.PutData(codec.ListDataKey(key, meta.Version, newIdx), value)
	meta.Count++
	if before && pos == 0 {
		meta.LeftIndex = newIdx
	}
	if !before && pos == n-1 {
		meta.RightIndex = newIdx
	}
	batch.PutMeta(key, meta.Encode())
	if err := batch.Write(); err != nil {
		return -1, err
	}
	return int(meta.Count), nil
}

// bisect returns the midpoint lo + (hi-lo)/2 (lo < hi). It lies strictly
// between lo and hi only when hi-lo >= 2; for hi == lo+1 it returns lo,
// which needsRenumber reports as no room.
func bisect(lo, hi int64) int64 {
	return lo + (hi-lo)/2
}

// needsRenumber reports whether bisecting left no room (the gap between
// neighbors has collapsed to zero width), meaning every index in between
// is already taken.
func needsRenumber(idxs []int64, pos int, before bool, candidate int64) bool {
	if before {
		left := idxs[pos] - 2
		if pos > 0 {
			left = idxs[pos-1]
		}
		return candidate <= left || candidate >= idxs[pos]
	}
	right := idxs[pos] + 2
	if pos < len(idxs)-1 {
		right = idxs[pos+1]
	}
	return candidate <= idxs[pos] || candidate >= right
}

// renumberAndInsert rewrites every element of key under a fresh version
// with evenly spaced indices, inserting value at the requested position
// (spec.md §4.6 "pathological fills are allowed to trigger a full
// rewrite (bump version, renumber evenly)").
func (e *Engine) renumberAndInsert(key string, meta codec.ListMeta, values [][]byte, idxs []int64, pos int, before bool, value []byte) (int, error) {
	insertAt := pos
	if !before {
		insertAt = pos + 1
	}
	newValues := make([][]byte, 0, len(values)+1)
	newValues = append(newValues, values[:insertAt]...)
	newValues = append(newValues, value)
	newValues = append(newValues, values[insertAt:]...)

	newVersion := version.Next()
	batch := e.store.NewBatch()
	spacing := int64(1000)
	base := -int64(len(newValues)/2) * spacing
	var left, right int64
	for i, v := range newValues {
		idx := base + int64(i)*spacing
		if i == 0 {
			left = idx
		}
		right = idx
		batch.PutData(codec.ListDataKey(key, newVersion, idx), v)
	}
	newMeta := codec.ListMeta{
		Count:      uint64(len(newValues)),
		Version:    newVersion,
		Timestamp:  meta.Timestamp,
		LeftIndex:  left,
		RightIndex: right,
	}
	batch.PutMeta(key, newMeta.Encode())
	if err := batch.Write(); err != nil {
		return -1, err
	}
	return len(newValues), nil
}

// --------------------------------------------------------------------------
// LTRIM / LREM
// --------------------------------------------------------------------------

// LTrim implements LTRIM: keeps only [start, stop], moving head/tail
// inward without renumbering survivors (spec.md §4.6).
func (e *Engine) LTrim(key string, start, stop int) error {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, values, idxs, err := e.allElements(key)
	if err != nil {
		return err
	}
	n := len(values)
	if n == 0 {
		return nil
	}
	start, stop = normalizeIndex(start, n), normalizeIndex(stop, n)
	if stop >= n {
		stop = n - 1
	}

	batch := e.store.NewBatch()
	if start > stop || start >= n {
		for _, idx := range idxs {
			batch.DeleteData(codec.ListDataKey(key, meta.Version, idx))
		}
		batch.PutMeta(key, emptyMeta().Encode())
		return batch.Write()
	}
	for i := 0; i < start; i++ {
		batch.DeleteData(codec.ListDataKey(key, meta.Version, idxs[i]))
	}
	for i := stop + 1; i < n; i++ {
		batch.DeleteData(codec.ListDataKey(key, meta.Version, idxs[i]))
	}
	meta.Count = uint64(stop - start + 1)
	meta.LeftIndex = idxs[start]
	meta.RightIndex = idxs[stop]
	batch.PutMeta(key, meta.Encode())
	return batch.Write()
}

// LRem implements LREM: count>0 scans head-to-tail removing up to count
// occurrences, count<0 scans tail-to-head, count==0 removes every
// occurrence (spec.md §4.6).
func (e *Engine) LRem(key string, count int, value []byte) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, values, idxs, err := e.allElements(key)
	if err != nil {
		return 0, err
	}
	n := len(values)
	if n == 0 {
		return 0, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if count < 0 {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	limit := count
	if limit < 0 {
		limit = -limit
	}

	toRemove := map[int]bool{}
	removed := 0
	for _, i := range order {
		if limit > 0 && removed >= limit {
			break
		}
		if compareBytes(values[i], value) == 0 {
			toRemove[i] = true
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	batch := e.store.NewBatch()
	firstKept, lastKept := -1, -1
	for i := 0; i < n; i++ {
		if toRemove[i] {
			batch.DeleteData(codec.ListDataKey(key, meta.Version, idxs[i]))
			continue
		}
		if firstKept == -1 {
			firstKept = i
		}
		lastKept = i
	}
	if firstKept == -1 {
		batch.PutMeta(key, emptyMeta().Encode())
		return removed, batch.Write()
	}
	meta.Count -= uint64(removed)
	meta.LeftIndex = idxs[firstKept]
	meta.RightIndex = idxs[lastKept]
	batch.PutMeta(key, meta.Encode())
	return removed, batch.Write()
}

// --------------------------------------------------------------------------
// RPOPLPUSH
// --------------------------------------------------------------------------

// RPopLPush implements RPOPLPUSH: atomically moves src's tail element to
// dst's head, locking both keys in lexicographic order (spec.md §3.2
// invariant 7, §4.6).
func (e *Engine) RPopLPush(src, dst string) ([]byte, bool, error) {
	token, _ := e.locks.LockMulti(src, dst)
	defer e.locks.UnlockMulti(token)

	srcMeta, values, idxs, err := e.allElements(src)
	if err != nil || len(values) == 0 {
		return nil, false, err
	}
	value := values[len(values)-1]
	popKey := codec.ListDataKey(src, srcMeta.Version, idxs[len(idxs)-1])

	// src == dst is a list rotation: reading dst's meta separately here
	// would read the same stale, pre-pop meta that srcMeta already holds,
	// and committing both PutMeta(src, ...) and PutMeta(dst, ...) against
	// that same key in one batch would let the dst write silently clobber
	// the pop with a Count/RightIndex that no longer matches the data.
	// Compose both mutations against the one srcMeta read instead.
	if src == dst {
		if len(idxs) == 1 {
			return value, true, nil
		}
		meta := srcMeta
		newIdx := meta.LeftIndex - 1
		meta.RightIndex = idxs[len(idxs)-2]
		meta.LeftIndex = newIdx

		batch := e.store.NewBatch()
		batch.DeleteData(popKey)
		batch.PutData(codec.ListDataKey(src, meta.Version, newIdx), value)
		batch.PutMeta(src, meta.Encode())
		if err := batch.Write(); err != nil {
			return nil, false, err
		}
		return value, true, nil
	}

	dstMeta, found, err := e.loadMeta(dst)
	if err != nil {
		return nil, false, err
	}
	if !found {
		dstMeta = emptyMeta()
	}

	batch := e.store.NewBatch()
	batch.DeleteData(popKey)
	srcMeta.Count--
	if srcMeta.Count == 0 {
		batch.PutMeta(src, emptyMeta().Encode())
	} else {
		srcMeta.RightIndex = idxs[len(idxs)-2]
		batch.PutMeta(src, srcMeta.Encode())
	}

	newIdx := dstMeta.LeftIndex - 1
	if dstMeta.Count == 0 {
		dstMeta.LeftIndex, dstMeta.RightIndex = newIdx, newIdx
	} else {
		dstMeta.LeftIndex = newIdx
	}
	dstMeta.Count++
	batch.PutData(codec.ListDataKey(dst, dstMeta.Version, newIdx), value)
	batch.PutMeta(dst, dstMeta.Encode())

	if err := batch.Write(); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// --------------------------------------------------------------------------
// Lifecycle (Exists/Del/Type/Expire/TTL)
// --------------------------------------------------------------------------

// Exists reports whether key has a live list.
func (e *Engine) Exists(key string) (bool, error) {
	_, found, err := e.loadMeta(key)
	return found, err
}

// Del deletes key's list.
func (e *Engine) Del(key string) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)
	_, found, err := e.loadMeta(key)
	if err != nil || !found {
		return false, err
	}
	m := emptyMeta()
	m.Count = 0
	return true, e.store.PutMeta(key, m.Encode())
}

// Type returns "list" if key has a live list, else "".
func (e *Engine) Type(key string) (string, error) {
	_, found, err := e.loadMeta(key)
	if err != nil || !found {
		return "", err
	}
	return "list", nil
}

// Expire sets a relative TTL in seconds on an existing list key.
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
