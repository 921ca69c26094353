// Package codec implements the bit-exact key and meta-value layouts for
// every data-structure family (strings, hashes, sets, sorted sets, lists).
//
// All multi-byte integers are fixed-width: big-endian where byte order
// must match numeric/lexicographic order (key fields consumed by an
// iterator), little-endian otherwise (meta-value trailers). This mirrors
// the teacher's own serializer idiom in rpc/serializer/binaryImpl.go: a
// pre-sized output slice, a running write position, and direct
// binary.BigEndian/LittleEndian Put calls rather than encoding/binary.Write
// reflection or a third-party binary codec.
package codec

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned by every decoder when the input is too small
// to contain the layout it is being asked to parse.
var ErrShortBuffer = errors.New("codec: buffer too short")

// PutUserKeyPrefix writes user-key-len(4 BE) ‖ user-key into dst starting
// at pos, returning the new position. This prefix is shared by every
// non-string data-key layout (hashes, sets, lists, both zset indices).
func PutUserKeyPrefix(dst []byte, pos int, userKey string) int {
	binary.BigEndian.PutUint32(dst[pos:], uint32(len(userKey)))
	pos += 4
	pos += copy(dst[pos:], userKey)
	return pos
}

// UserKeyPrefixLen returns the encoded length of PutUserKeyPrefix's output
// for the given user-key, used to pre-size data-key buffers.
func UserKeyPrefixLen(userKey string) int {
	return 4 + len(userKey)
}

// SplitDataKeyPrefix parses the user-key-len(4 BE) ‖ user-key prefix shared
// by every non-string data-key, returning the user-key and the remaining
// suffix (version ‖ element-identifier, layout depending on the type).
//
// Used by the data-CF compaction filter (internal/kv/compactionfilter.go)
// to recover the owning user-key of a composite data-key without knowing
// its type-specific suffix layout.
func SplitDataKeyPrefix(key []byte) (userKey string, suffix []byte, err error) {
	if len(key) < 4 {
		return "", nil, ErrShortBuffer
	}
	n := binary.BigEndian.Uint32(key)
	if len(key) < 4+int(n) {
		return "", nil, ErrShortBuffer
	}
	userKey = string(key[4 : 4+n])
	suffix = key[4+n:]
	return userKey, suffix, nil
}

// KeyPrefix returns the shared prefix (user-key-len ‖ user-key ‖ version)
// that every data record for (userKey, version) sits under; used to seek
// an iterator to the start of one typed key's data range and as the
// compaction-range bound for compact_key background tasks.
//
// versionWidth is 4 for hashes/sets/zsets, 8 for lists.
func KeyPrefix(userKey string, version uint64, versionWidth int) []byte {
	buf := make([]byte, UserKeyPrefixLen(userKey)+versionWidth)
	pos := PutUserKeyPrefix(buf, 0, userKey)
	switch versionWidth {
	case 4:
		binary.BigEndian.PutUint32(buf[pos:], uint32(version))
	case 8:
		binary.BigEndian.PutUint64(buf[pos:], version)
	}
	return buf
}

// PrefixUpperBound returns the smallest byte slice that is lexicographically
// greater than every slice with the given prefix, used as an exclusive
// iterator/compaction-range end bound. Returns nil if the prefix is all
// 0xFF bytes (meaning there is no finite upper bound; callers should use a
// nil end and rely on the iterator's natural exhaustion instead).
func PrefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
