// Package hashes implements the hashes data-structure engine (spec.md
// §4.3): meta + field-index encoding, HSET/HMGET/HSCAN/HRSCAN and friends.
package hashes

import (
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	db "github.com/aalhour/rockyardkv"

	"github.com/justforfun1323/blackwidow/internal/codec"
	"github.com/justforfun1323/blackwidow/internal/kv"
	"github.com/justforfun1323/blackwidow/internal/lockmgr"
	"github.com/justforfun1323/blackwidow/internal/logging"
	"github.com/justforfun1323/blackwidow/internal/lru"
	"github.com/justforfun1323/blackwidow/internal/status"
	"github.com/justforfun1323/blackwidow/internal/version"
)

var log = logging.GetLogger("engine/hashes")

// hscanCursorCapacity bounds the HSCAN opaque-cursor cache the same way
// spec.md §3.1 bounds the top-level engine's SCAN cursor cache.
const hscanCursorCapacity = 5000

// Engine is the hashes data-structure engine.
type Engine struct {
	store *kv.Store
	locks *lockmgr.Manager

	hscanCursors *lru.CursorCache
	hscanSeq     atomic.Int64
}

// New constructs a hashes engine over an already-open store.
func New(store *kv.Store, locks *lockmgr.Manager) *Engine {
	return &Engine{
		store:        store,
		locks:        locks,
		hscanCursors: lru.NewCursorCache(hscanCursorCapacity),
	}
}

func now() uint32 { return uint32(time.Now().Unix()) }

func (e *Engine) loadMeta(key string) (codec.HashMeta, bool, error) {
	raw, found, err := e.store.GetMeta(key)
	if err != nil || !found {
		return codec.HashMeta{}, false, err
	}
	m, err := codec.DecodeHashMeta(raw)
	if err != nil {
		return codec.HashMeta{}, false, status.New(status.Corruption, "hashes: %s: %v", key, err)
	}
	if m.Timestamp != 0 && m.Timestamp <= now() || m.Count == 0 {
		return codec.HashMeta{}, false, nil
	}
	return m, true, nil
}

// HSet implements HSET, returning 1 if the field was new, 0 if it already
// existed and was overwritten (spec.md §4.3).
func (e *Engine) HSet(key, field string, value []byte) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil {
		return 0, err
	}
	if !found {
		meta = codec.HashMeta{Version: version.Next32()}
	}

	dataKey := codec.HashDataKey(key, meta.Version, field)
	_, existed, err := e.store.GetData(dataKey)
	if err != nil {
		return 0, err
	}

	batch := e.store.NewBatch()
	batch.PutData(dataKey, value)
	if !existed {
		meta.Count++
	}
	batch.PutMeta(key, meta.Encode())
	if err := batch.Write(); err != nil {
		return 0, err
	}
	if existed {
		return 0, nil
	}
	return 1, nil
}

// HSetNX implements HSETNX: sets only if the field does not exist.
func (e *Engine) HSetNX(key, field string, value []byte) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil {
		return false, err
	}
	if !found {
		meta = codec.HashMeta{Version: version.Next32()}
	}
	dataKey := codec.HashDataKey(key, meta.Version, field)
	_, existed, err := e.store.GetData(dataKey)
	if err != nil {
		return false, err
	}
	if existed {
		return false, nil
	}
	meta.Count++
	batch := e.store.NewBatch()
	batch.PutData(dataKey, value)
	batch.PutMeta(key, meta.Encode())
	return true, batch.Write()
}

// HMSet implements HMSET: sets multiple fields atomically.
func (e *Engine) HMSet(key string, fields map[string][]byte) error {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil {
		return err
	}
	if !found {
		meta = codec.HashMeta{Version: version.Next32()}
	}

	batch := e.store.NewBatch()
	for field, value := range fields {
		dataKey := codec.HashDataKey(key, meta.Version, field)
		_, existed, err := e.store.GetData(dataKey)
		if err != nil {
			return err
		}
		if !existed {
			meta.Count++
		}
		batch.PutData(dataKey, value)
	}
	batch.PutMeta(key, meta.Encode())
	return batch.Write()
}

// HGet implements HGET.
func (e *Engine) HGet(key, field string) ([]byte, bool, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return nil, false, err
	}
	return e.store.GetData(codec.HashDataKey(key, meta.Version, field))
}

// HMGet implements HMGET; missing fields come back as (nil, false).
func (e *Engine) HMGet(key string, fields []string) ([][]byte, []bool, error) {
	meta, found, err := e.loadMeta(key)
	values := make([][]byte, len(fields))
	oks := make([]bool, len(fields))
	if err != nil || !found {
		return values, oks, err
	}
	for i, f := range fields {
		v, ok, err := e.store.GetData(codec.HashDataKey(key, meta.Version, f))
		if err != nil {
			return nil, nil, err
		}
		values[i], oks[i] = v, ok
	}
	return values, oks, nil
}

// HExists implements HEXISTS.
func (e *Engine) HExists(key, field string) (bool, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return false, err
	}
	_, ok, err := e.store.GetData(codec.HashDataKey(key, meta.Version, field))
	return ok, err
}

// HDel implements HDEL, returning the number of fields actually removed.
func (e *Engine) HDel(key string, fields ...string) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return 0, err
	}

	batch := e.store.NewBatch()
	removed := 0
	for _, f := range fields {
		dataKey := codec.HashDataKey(key, meta.Version, f)
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

// HLen implements HLEN.
func (e *Engine) HLen(key string) (int, error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return 0, err
	}
	return int(meta.Count), nil
}

// HStrLen implements HSTRLEN.
func (e *Engine) HStrLen(key, field string) (int, error) {
	v, ok, err := e.HGet(key, field)
	if err != nil || !ok {
		return 0, err
	}
	return len(v), nil
}

// iterateFields runs fn over every (field, value) pair of key's live
// version, in field order, stopping early if fn returns false.
func (e *Engine) iterateFields(key string, fn func(field string, value []byte) bool) error {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return err
	}
	snap := e.store.NewSnapshot()
	defer snap.Close()

	iter, err := e.store.NewDataIterator(snap)
	if err != nil {
		return err
	}
	defer iter.Close()

	prefix := codec.HashDataKeyPrefix(key, meta.Version)
	upper := codec.PrefixUpperBound(prefix)
	for iter.Seek(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if upper != nil && compareBytes(k, upper) >= 0 {
			break
		}
		_, _, field, err := codec.DecodeHashDataKey(k)
		if err != nil {
			return status.New(status.Corruption, "hashes: bad data key: %v", err)
		}
		if !fn(field, iter.Value()) {
			break
		}
	}
	return iter.Error()
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

// HKeys implements HKEYS.
func (e *Engine) HKeys(key string) ([]string, error) {
	var out []string
	err := e.iterateFields(key, func(field string, _ []byte) bool {
		out = append(out, field)
		return true
	})
	return out, err
}

// HVals implements HVALS.
func (e *Engine) HVals(key string) ([][]byte, error) {
	var out [][]byte
	err := e.iterateFields(key, func(_ string, value []byte) bool {
		out = append(out, value)
		return true
	})
	return out, err
}

// HGetAll implements HGETALL.
func (e *Engine) HGetAll(key string) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := e.iterateFields(key, func(field string, value []byte) bool {
		out[field] = append([]byte{}, value...)
		return true
	})
	return out, err
}

// HIncrBy implements HINCRBY with 64-bit signed overflow detection.
func (e *Engine) HIncrBy(key, field string, delta int64) (int64, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil {
		return 0, err
	}
	if !found {
		meta = codec.HashMeta{Version: version.Next32()}
	}
	dataKey := codec.HashDataKey(key, meta.Version, field)
	raw, existed, err := e.store.GetData(dataKey)
	if err != nil {
		return 0, err
	}

	var cur int64
	if existed {
		cur, err = strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if err != nil {
			return 0, status.New(status.InvalidArgument, "hash value is not an integer")
		}
	}
	result := cur + delta
	if (delta > 0 && result < cur) || (delta < 0 && result > cur) {
		return 0, status.New(status.InvalidArgument, "increment or decrement would overflow")
	}

	batch := e.store.NewBatch()
	batch.PutData(dataKey, []byte(strconv.FormatInt(result, 10)))
	if !existed {
		meta.Count++
		batch.PutMeta(key, meta.Encode())
	}
	return result, batch.Write()
}

// HIncrByFloat implements HINCRBYFLOAT.
func (e *Engine) HIncrByFloat(key, field string, delta float64) (string, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	meta, found, err := e.loadMeta(key)
	if err != nil {
		return "", err
	}
	if !found {
		meta = codec.HashMeta{Version: version.Next32()}
	}
	dataKey := codec.HashDataKey(key, meta.Version, field)
	raw, existed, err := e.store.GetData(dataKey)
	if err != nil {
		return "", err
	}

	var cur float64
	if existed {
		cur, err = strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
		if err != nil {
			return "", status.New(status.InvalidArgument, "hash value is not a valid float")
		}
	}
	result := cur + delta
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return "", status.New(status.InvalidArgument, "increment would produce NaN or Infinity")
	}
	formatted := strconv.FormatFloat(result, 'f', -1, 64)
	if strings.Contains(formatted, ".") {
		formatted = strings.TrimRight(formatted, "0")
		formatted = strings.TrimSuffix(formatted, ".")
	}

	batch := e.store.NewBatch()
	batch.PutData(dataKey, []byte(formatted))
	if !existed {
		meta.Count++
		batch.PutMeta(key, meta.Encode())
	}
	return formatted, batch.Write()
}

// HScan implements HSCAN: an opaque int64 cursor (0 = start) plus a glob
// pattern, returning up to count fields and the next cursor (0 = done).
// Unlike HScanX's caller-supplied start-field, the cursor here is minted
// and resolved server-side via an LRU cache, the same scheme the
// top-level engine's Scan uses for its own cursor (spec.md §4.7, §9).
func (e *Engine) HScan(key string, cursor int64, pattern string, count int) (fields []string, values [][]byte, next int64, err error) {
	var startField string
	if cursor != 0 {
		if entry, ok := e.hscanCursors.Get(cursor); ok {
			startField = string(entry.NextKey)
		}
	}

	var nextField string
	fields, values, nextField, err = e.HScanX(key, startField, pattern, count)
	if err != nil || nextField == "" {
		return fields, values, 0, err
	}

	next = e.hscanSeq.Add(1)
	e.hscanCursors.Put(next, lru.CursorEntry{NextKey: []byte(nextField)})
	return fields, values, next, nil
}

// HScanX implements HSCANX: a caller-supplied start-field (rather than an
// opaque cursor) plus a glob pattern, returning up to count fields and the
// literal name of the next field to resume from ("" = done).
func (e *Engine) HScanX(key, cursor, pattern string, count int) (fields []string, values [][]byte, next string, err error) {
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

	prefix := codec.HashDataKeyPrefix(key, meta.Version)
	upper := codec.PrefixUpperBound(prefix)

	seekKey := prefix
	if cursor != "" {
		seekKey = codec.HashDataKey(key, meta.Version, cursor)
	}

	scanned := 0
	for iter.Seek(seekKey); iter.Valid(); iter.Next() {
		k := iter.Key()
		if upper != nil && compareBytes(k, upper) >= 0 {
			next = ""
			break
		}
		_, _, field, derr := codec.DecodeHashDataKey(k)
		if derr != nil {
			return nil, nil, "", status.New(status.Corruption, "hashes: bad data key: %v", derr)
		}
		if matchGlob(pattern, field) {
			fields = append(fields, field)
			values = append(values, iter.Value())
		}
		scanned++
		if scanned >= count {
			iter.Next()
			if iter.Valid() && (upper == nil || compareBytes(iter.Key(), upper) < 0) {
				_, _, nf, _ := codec.DecodeHashDataKey(iter.Key())
				next = nf
			}
			break
		}
	}
	return fields, values, next, iter.Error()
}

// matchGlob implements the glob subset spec.md §4.7 requires (*?[...]),
// with an empty pattern matching everything.
func matchGlob(pattern, s string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := globMatch([]byte(pattern), []byte(s))
	return err == nil && ok
}

// globMatch is a small recursive glob matcher supporting '*', '?' and
// '[...]' character classes, in the shape redis's stringmatchlen uses.
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
		case '[':
			if len(s) == 0 {
				return false, nil
			}
			end := indexByte(pattern, ']')
			if end < 0 {
				return bytesEqual(pattern, s), nil
			}
			class := pattern[1:end]
			negate := false
			if len(class) > 0 && class[0] == '^' {
				negate = true
				class = class[1:]
			}
			matched := classMatches(class, s[0])
			if matched == negate {
				return false, nil
			}
			s = s[1:]
			pattern = pattern[end+1:]
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

func classMatches(class []byte, c byte) bool {
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if class[i] <= c && c <= class[i+2] {
				return true
			}
			i += 2
			continue
		}
		if class[i] == c {
			return true
		}
	}
	return false
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PKHScanRange implements PKHScanRange/PKHRScanRange: a bounded range scan
// by field with a glob pattern, returning up to limit fields starting at
// (and including) startField, iterating forward if !reverse else backward.
func (e *Engine) PKHScanRange(key, startField, endField, pattern string, limit int, reverse bool) (fields []string, values [][]byte, err error) {
	meta, found, err := e.loadMeta(key)
	if err != nil || !found {
		return nil, nil, err
	}
	snap := e.store.NewSnapshot()
	defer snap.Close()
	iter, err := e.store.NewDataIterator(snap)
	if err != nil {
		return nil, nil, err
	}
	defer iter.Close()

	prefix := codec.HashDataKeyPrefix(key, meta.Version)
	upper := codec.PrefixUpperBound(prefix)
	startKey := prefix
	if startField != "" {
		startKey = codec.HashDataKey(key, meta.Version, startField)
	}

	var endKey []byte
	if endField != "" {
		endKey = codec.HashDataKey(key, meta.Version, endField)
	}

	step := func(it db.Iterator) { it.Next() }
	if reverse {
		step = func(it db.Iterator) { it.Prev() }
		iter.SeekForPrev(startKey)
	} else {
		iter.Seek(startKey)
	}

	for ; iter.Valid(); step(iter) {
		k := iter.Key()
		if compareBytes(k, prefix) < 0 || (upper != nil && compareBytes(k, upper) >= 0) {
			break
		}
		if endKey != nil {
			if !reverse && compareBytes(k, endKey) > 0 {
				break
			}
			if reverse && compareBytes(k, endKey) < 0 {
				break
			}
		}
		_, _, field, derr := codec.DecodeHashDataKey(k)
		if derr != nil {
			return nil, nil, status.New(status.Corruption, "hashes: bad data key: %v", derr)
		}
		if matchGlob(pattern, field) {
			fields = append(fields, field)
			values = append(values, append([]byte{}, iter.Value()...))
		}
		if limit > 0 && len(fields) >= limit {
			break
		}
	}
	return fields, values, iter.Error()
}

// Exists reports whether key has a live hash.
func (e *Engine) Exists(key string) (bool, error) {
	_, found, err := e.loadMeta(key)
	return found, err
}

// Del deletes key's hash (bumps version to a fresh one with count 0,
// spec.md §3.3 "Deletion").
func (e *Engine) Del(key string) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)
	_, found, err := e.loadMeta(key)
	if err != nil || !found {
		return false, err
	}
	return true, e.store.PutMeta(key, codec.HashMeta{Version: version.Next32()}.Encode())
}

// Type returns "hash" if key has a live hash, else "".
func (e *Engine) Type(key string) (string, error) {
	_, found, err := e.loadMeta(key)
	if err != nil || !found {
		return "", err
	}
	return "hash", nil
}

// Expire sets a relative TTL in seconds on an existing hash key.
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
