// Package strings implements the flat value store with TTL, bit
// operations, numeric INCR/DECR and the HyperLogLog payload host
// (spec.md §4.2).
package strings

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/justforfun1323/blackwidow/internal/codec"
	"github.com/justforfun1323/blackwidow/internal/hll"
	"github.com/justforfun1323/blackwidow/internal/kv"
	"github.com/justforfun1323/blackwidow/internal/lockmgr"
	"github.com/justforfun1323/blackwidow/internal/logging"
	"github.com/justforfun1323/blackwidow/internal/status"
	"github.com/justforfun1323/blackwidow/internal/version"
)

var log = logging.GetLogger("engine/strings")

// Engine is the strings data-structure engine. Strings has no data column
// family: the value lives inline in the meta record (spec.md §4.1).
type Engine struct {
	store *kv.Store
	locks *lockmgr.Manager
}

// New constructs a strings engine over an already-open store.
func New(store *kv.Store, locks *lockmgr.Manager) *Engine {
	return &Engine{store: store, locks: locks}
}

func now() uint32 { return uint32(time.Now().Unix()) }

// --------------------------------------------------------------------------
// internal helpers
// --------------------------------------------------------------------------

// load returns the live meta for key, or (zero, false, nil) if absent or
// stale (spec.md §3.3 "Expiration").
func (e *Engine) load(key string) (codec.StringMeta, bool, error) {
	raw, found, err := e.store.GetMeta(key)
	if err != nil || !found {
		return codec.StringMeta{}, false, err
	}
	m, err := codec.DecodeStringMeta(raw)
	if err != nil {
		return codec.StringMeta{}, false, status.New(status.Corruption, "strings: %s: %v", key, err)
	}
	if m.Timestamp != 0 && m.Timestamp <= now() {
		return codec.StringMeta{}, false, nil
	}
	return m, true, nil
}

func (e *Engine) write(key string, m codec.StringMeta) error {
	return e.store.PutMeta(key, m.Encode())
}

// --------------------------------------------------------------------------
// SET family
// --------------------------------------------------------------------------

// Set implements SET.
func (e *Engine) Set(key string, value []byte) error {
	return e.SetE(key, value, 0)
}

// SetE implements SETEX/PKSETEXAT-style sets with a relative TTL in
// seconds (0 = no expiration).
func (e *Engine) SetE(key string, value []byte, ttlSeconds uint32) error {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	var ts uint32
	if ttlSeconds != 0 {
		ts = now() + ttlSeconds
	}
	return e.write(key, codec.StringMeta{Value: value, Version: version.Next32(), Timestamp: ts})
}

// PKSetExAt sets value with an absolute expiration timestamp (0 = none).
func (e *Engine) PKSetExAt(key string, value []byte, absTimestamp uint32) error {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)
	return e.write(key, codec.StringMeta{Value: value, Version: version.Next32(), Timestamp: absTimestamp})
}

// SetNX implements SETNX: sets only if the key does not currently exist.
// Returns true if the value was set.
func (e *Engine) SetNX(key string, value []byte) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	if _, found, err := e.load(key); err != nil {
		return false, err
	} else if found {
		return false, nil
	}
	return true, e.write(key, codec.StringMeta{Value: value, Version: version.Next32()})
}

// SetXX implements SETXX: sets only if the key currently exists.
func (e *Engine) SetXX(key string, value []byte) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	m, found, err := e.load(key)
	if err != nil || !found {
		return false, err
	}
	m.Value = value
	m.Version = version.Next32()
	return true, e.write(key, m)
}

// SetVX implements SETVX: sets only if the current value equals expected.
func (e *Engine) SetVX(key string, expected, newValue []byte) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	m, found, err := e.load(key)
	if err != nil || !found || string(m.Value) != string(expected) {
		return false, err
	}
	m.Value = newValue
	m.Version = version.Next32()
	return true, e.write(key, m)
}

// DelVX implements DELVX: deletes only if the current value equals expected.
func (e *Engine) DelVX(key string, expected []byte) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	m, found, err := e.load(key)
	if err != nil || !found || string(m.Value) != string(expected) {
		return false, err
	}
	return true, e.store.DeleteMeta(key)
}

// MSet implements MSET: holds every key's lock, then writes all values.
func (e *Engine) MSet(pairs map[string][]byte) error {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	token, _ := e.locks.LockMulti(keys...)
	defer e.locks.UnlockMulti(token)

	for k, v := range pairs {
		if err := e.write(k, codec.StringMeta{Value: v, Version: version.Next32()}); err != nil {
			return err
		}
	}
	return nil
}

// MSetNX implements MSETNX: all-or-nothing set if none of the keys exist.
func (e *Engine) MSetNX(pairs map[string][]byte) (bool, error) {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	token, _ := e.locks.LockMulti(keys...)
	defer e.locks.UnlockMulti(token)

	for k := range pairs {
		if _, found, err := e.load(k); err != nil {
			return false, err
		} else if found {
			return false, nil
		}
	}
	for k, v := range pairs {
		if err := e.write(k, codec.StringMeta{Value: v, Version: version.Next32()}); err != nil {
			return false, err
		}
	}
	return true, nil
}

// MGet implements MGET.
func (e *Engine) MGet(keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		m, found, err := e.load(k)
		if err != nil {
			return nil, err
		}
		if found {
			out[i] = m.Value
		}
	}
	return out, nil
}

// Get implements GET. ok is false if the key is absent or stale.
func (e *Engine) Get(key string) (value []byte, ok bool, err error) {
	m, found, err := e.load(key)
	if err != nil || !found {
		return nil, false, err
	}
	return m.Value, true, nil
}

// GetSet implements GETSET: returns the old value (if any) and sets a new one.
func (e *Engine) GetSet(key string, value []byte) ([]byte, bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	m, found, err := e.load(key)
	if err != nil {
		return nil, false, err
	}
	old := m.Value
	return old, found, e.write(key, codec.StringMeta{Value: value, Version: version.Next32()})
}

// Append implements APPEND, returning the new length.
func (e *Engine) Append(key string, suffix []byte) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	m, found, err := e.load(key)
	if err != nil {
		return 0, err
	}
	if !found {
		m = codec.StringMeta{Version: version.Next32()}
	}
	m.Value = append(m.Value, suffix...)
	return len(m.Value), e.write(key, m)
}

// StrLen implements STRLEN.
func (e *Engine) StrLen(key string) (int, error) {
	m, found, err := e.load(key)
	if err != nil || !found {
		return 0, err
	}
	return len(m.Value), nil
}

// SetRange implements SETRANGE: writes value at offset, zero-padding the
// gap if offset is past the current end (spec.md §8 boundary behaviors).
func (e *Engine) SetRange(key string, offset int, value []byte) (int, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	m, found, err := e.load(key)
	if err != nil {
		return 0, err
	}
	if !found {
		m = codec.StringMeta{Version: version.Next32()}
	}
	needed := offset + len(value)
	if needed > len(m.Value) {
		grown := make([]byte, needed)
		copy(grown, m.Value)
		m.Value = grown
	}
	copy(m.Value[offset:], value)
	return len(m.Value), e.write(key, m)
}

// GetRange implements GETRANGE with redis-style negative-index semantics.
func (e *Engine) GetRange(key string, start, end int) ([]byte, error) {
	m, found, err := e.load(key)
	if err != nil || !found {
		return nil, err
	}
	n := len(m.Value)
	start, end = normalizeRange(start, end, n)
	if start > end || n == 0 {
		return []byte{}, nil
	}
	return m.Value[start : end+1], nil
}

func normalizeRange(start, end, n int) (int, int) {
	if start < 0 {
		start = n + start
	}
	if end < 0 {
		end = n + end
	}
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	return start, end
}

// --------------------------------------------------------------------------
// Bit operations
// --------------------------------------------------------------------------

// SetBit implements SETBIT, returning the previous bit value.
func (e *Engine) SetBit(key string, pos int, bit byte) (byte, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	m, found, err := e.load(key)
	if err != nil {
		return 0, err
	}
	if !found {
		m = codec.StringMeta{Version: version.Next32()}
	}
	byteIdx := pos / 8
	bitIdx := uint(7 - pos%8)
	if byteIdx >= len(m.Value) {
		grown := make([]byte, byteIdx+1)
		copy(grown, m.Value)
		m.Value = grown
	}
	old := (m.Value[byteIdx] >> bitIdx) & 1
	if bit != 0 {
		m.Value[byteIdx] |= 1 << bitIdx
	} else {
		m.Value[byteIdx] &^= 1 << bitIdx
	}
	return old, e.write(key, m)
}

// GetBit implements GETBIT.
func (e *Engine) GetBit(key string, pos int) (byte, error) {
	m, found, err := e.load(key)
	if err != nil || !found {
		return 0, err
	}
	byteIdx := pos / 8
	if byteIdx >= len(m.Value) {
		return 0, nil
	}
	bitIdx := uint(7 - pos%8)
	return (m.Value[byteIdx] >> bitIdx) & 1, nil
}

// BitCount implements BITCOUNT, with an optional [start,end] byte range.
func (e *Engine) BitCount(key string, hasRange bool, start, end int) (int, error) {
	m, found, err := e.load(key)
	if err != nil || !found {
		return 0, err
	}
	data := m.Value
	if hasRange {
		n := len(data)
		s, en := normalizeRange(start, end, n)
		if s > en || n == 0 {
			return 0, nil
		}
		data = data[s : en+1]
	}
	count := 0
	for _, b := range data {
		count += popcount(b)
	}
	return count, nil
}

func popcount(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

// BitPos implements BITPOS: finds the first bit equal to target.
func (e *Engine) BitPos(key string, target byte) (int, error) {
	m, found, err := e.load(key)
	if err != nil || !found {
		if target == 0 {
			return 0, nil
		}
		return -1, nil
	}
	for byteIdx, b := range m.Value {
		for bit := 0; bit < 8; bit++ {
			v := (b >> uint(7-bit)) & 1
			if v == target {
				return byteIdx*8 + bit, nil
			}
		}
	}
	if target == 0 {
		return len(m.Value) * 8, nil
	}
	return -1, nil
}

// BitOpKind enumerates BITOP's operators.
type BitOpKind int

const (
	BitAnd BitOpKind = iota
	BitOr
	BitXor
	BitNot
)

// BitOp implements BITOP: result length = max source length, shorter
// sources are zero-padded on the right (spec.md §4.2).
func (e *Engine) BitOp(op BitOpKind, dest string, sources ...string) (int, error) {
	all := append(append([]string{}, sources...), dest)
	token, _ := e.locks.LockMulti(all...)
	defer e.locks.UnlockMulti(token)

	values := make([][]byte, len(sources))
	maxLen := 0
	for i, s := range sources {
		m, found, err := e.load(s)
		if err != nil {
			return 0, err
		}
		if found {
			values[i] = m.Value
		}
		if len(values[i]) > maxLen {
			maxLen = len(values[i])
		}
	}

	if op == BitNot && len(sources) != 1 {
		return 0, status.New(status.InvalidArgument, "BITOP NOT takes exactly one source key")
	}

	result := make([]byte, maxLen)
	if op == BitNot {
		src := values[0]
		for i := range result {
			var b byte
			if i < len(src) {
				b = src[i]
			}
			result[i] = ^b
		}
	} else {
		for i := range result {
			var acc byte
			for j, v := range values {
				var b byte
				if i < len(v) {
					b = v[i]
				}
				if j == 0 {
					acc = b
					continue
				}
				switch op {
				case BitAnd:
					acc &= b
				case BitOr:
					acc |= b
				case BitXor:
					acc ^= b
				}
			}
			result[i] = acc
		}
	}

	return maxLen, e.write(dest, codec.StringMeta{Value: result, Version: version.Next32()})
}

// --------------------------------------------------------------------------
// Numeric operations
// --------------------------------------------------------------------------

// IncrBy implements INCRBY/DECRBY (call with a negative delta for DECRBY).
// 64-bit signed arithmetic with explicit overflow detection (spec.md §9).
func (e *Engine) IncrBy(key string, delta int64) (int64, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	m, found, err := e.load(key)
	if err != nil {
		return 0, err
	}
	var cur int64
	if found {
		cur, err = strconv.ParseInt(strings.TrimSpace(string(m.Value)), 10, 64)
		if err != nil {
			return 0, status.New(status.InvalidArgument, "value is not an integer or out of range")
		}
	} else {
		m = codec.StringMeta{Version: version.Next32()}
	}

	result := cur + delta
	if (delta > 0 && result < cur) || (delta < 0 && result > cur) {
		return 0, status.New(status.InvalidArgument, "increment or decrement would overflow")
	}

	m.Value = []byte(strconv.FormatInt(result, 10))
	return result, e.write(key, m)
}

// IncrByFloat implements INCRBYFLOAT with float64 arithmetic: the stored
// value is parsed as a float64, delta is added, and the sum is rendered by
// formatFloatTrimmed (trailing zeros trimmed, no scientific notation).
// Precision is that of float64; no arbitrary-precision decimal arithmetic
// is performed.
func (e *Engine) IncrByFloat(key string, delta float64) (string, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	m, found, err := e.load(key)
	if err != nil {
		return "", err
	}
	var cur float64
	if found {
		cur, err = strconv.ParseFloat(strings.TrimSpace(string(m.Value)), 64)
		if err != nil {
			return "", status.New(status.InvalidArgument, "value is not a valid float")
		}
	} else {
		m = codec.StringMeta{Version: version.Next32()}
	}

	result := cur + delta
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return "", status.New(status.InvalidArgument, "increment would produce NaN or Infinity")
	}

	formatted := formatFloatTrimmed(result)
	m.Value = []byte(formatted)
	return formatted, e.write(key, m)
}

// formatFloatTrimmed renders f as a plain decimal (never scientific
// notation) using the shortest representation that round-trips exactly,
// then trims any trailing fractional zeros. Formatting with a fixed
// fractional precision instead would print float64's binary
// representation error (10.5+0.1 as "10.59999999999999964").
func formatFloatTrimmed(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// --------------------------------------------------------------------------
// TTL
// --------------------------------------------------------------------------

// TTL returns the number of seconds until expiration, -1 if the key
// exists with no TTL, or -2 if the key does not exist.
func (e *Engine) TTL(key string) (int64, error) {
	m, found, err := e.load(key)
	if err != nil {
		return 0, err
	}
	if !found {
		return -2, nil
	}
	if m.Timestamp == 0 {
		return -1, nil
	}
	remaining := int64(m.Timestamp) - int64(now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Expire sets a relative TTL in seconds on an existing key.
func (e *Engine) Expire(key string, seconds uint32) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	m, found, err := e.load(key)
	if err != nil || !found {
		return false, err
	}
	m.Timestamp = now() + seconds
	return true, e.write(key, m)
}

// Persist removes a key's TTL.
func (e *Engine) Persist(key string) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	m, found, err := e.load(key)
	if err != nil || !found || m.Timestamp == 0 {
		return false, err
	}
	m.Timestamp = 0
	return true, e.write(key, m)
}

// Exists reports whether key has a live value.
func (e *Engine) Exists(key string) (bool, error) {
	_, found, err := e.load(key)
	return found, err
}

// Del deletes key unconditionally.
func (e *Engine) Del(key string) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	_, found, err := e.load(key)
	if err != nil || !found {
		return false, err
	}
	return true, e.store.DeleteMeta(key)
}

// --------------------------------------------------------------------------
// HyperLogLog (PFADD/PFCOUNT/PFMERGE)
// --------------------------------------------------------------------------

func (e *Engine) loadSketch(key string) (*hll.Sketch, bool, error) {
	m, found, err := e.load(key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return hll.New(), false, nil
	}
	s, err := hll.FromBytes(m.Value)
	if err != nil {
		return nil, false, status.New(status.Corruption, "PF: %s: not a valid HLL sketch", key)
	}
	return s, true, nil
}

// PFAdd implements PFADD, returning true if the estimated cardinality
// changed.
func (e *Engine) PFAdd(key string, elements ...[]byte) (bool, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	s, _, err := e.loadSketch(key)
	if err != nil {
		return false, err
	}
	before := s.Estimate()
	for _, el := range elements {
		s.Add(el)
	}
	after := s.Estimate()

	m, found, err := e.load(key)
	if err != nil {
		return false, err
	}
	if !found {
		m = codec.StringMeta{Version: version.Next32()}
	}
	m.Value = s.Bytes()
	return before != after, e.write(key, m)
}

// PFCount implements PFCOUNT, merging multiple sketches' estimates when
// more than one key is given.
func (e *Engine) PFCount(keys ...string) (uint64, error) {
	if len(keys) == 0 {
		return 0, status.New(status.InvalidArgument, "PFCOUNT requires at least one key")
	}
	merged := hll.New()
	for _, k := range keys {
		s, found, err := e.loadSketch(k)
		if err != nil {
			return 0, err
		}
		if found {
			merged.Merge(s)
		}
	}
	return merged.Estimate(), nil
}

// PFMerge implements PFMERGE: merges sources into dest.
func (e *Engine) PFMerge(dest string, sources ...string) error {
	all := append(append([]string{}, sources...), dest)
	token, _ := e.locks.LockMulti(all...)
	defer e.locks.UnlockMulti(token)

	merged, _, err := e.loadSketch(dest)
	if err != nil {
		return err
	}
	for _, s := range sources {
		src, found, err := e.loadSketch(s)
		if err != nil {
			return err
		}
		if found {
			merged.Merge(src)
		}
	}

	m, found, err := e.load(dest)
	if err != nil {
		return err
	}
	if !found {
		m = codec.StringMeta{Version: version.Next32()}
	}
	m.Value = merged.Bytes()
	return e.write(dest, m)
}

// Type returns "string" if key has a live value, else "".
func (e *Engine) Type(key string) (string, error) {
	_, found, err := e.load(key)
	if err != nil || !found {
		return "", err
	}
	return "string", nil
}

// DebugString renders the meta for operator tooling (cmd/widow).
func (e *Engine) DebugString(key string) (string, error) {
	m, found, err := e.load(key)
	if err != nil {
		return "", err
	}
	if !found {
		return "(nil)", nil
	}
	return fmt.Sprintf("value=%q version=%d timestamp=%d", m.Value, m.Version, m.Timestamp), nil
}
