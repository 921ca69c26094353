package codec

import "encoding/binary"

// ListMeta is the lists engine's meta-value layout: count(8 LE),
// version(8 LE), timestamp(4 LE), left_index(8 LE), right_index(8 LE).
//
// LeftIndex/RightIndex bound the live elements: every element's index lies
// in [LeftIndex, RightIndex]. They are not always the exact head/tail
// indices: a pop sets them one past the last popped index. LPUSH allocates LeftIndex-1 for each new element (in push order) and
// RPUSH allocates RightIndex+1 (spec.md §4.6).
type ListMeta struct {
	Count      uint64
	Version    uint64
	Timestamp  uint32
	LeftIndex  int64
	RightIndex int64
}

// Encode packs m into its on-disk meta-value form.
func (m ListMeta) Encode() []byte {
	buf := make([]byte, 36)
	binary.LittleEndian.PutUint64(buf[0:], m.Count)
	binary.LittleEndian.PutUint64(buf[8:], m.Version)
	binary.LittleEndian.PutUint32(buf[16:], m.Timestamp)
	binary.LittleEndian.PutUint64(buf[20:], uint64(m.LeftIndex))
	binary.LittleEndian.PutUint64(buf[28:], uint64(m.RightIndex))
	return buf
}

// DecodeListMeta parses a meta-value produced by ListMeta.Encode.
func DecodeListMeta(raw []byte) (ListMeta, error) {
	if len(raw) < 36 {
		return ListMeta{}, ErrShortBuffer
	}
	return ListMeta{
		Count:      binary.LittleEndian.Uint64(raw[0:]),
		Version:    binary.LittleEndian.Uint64(raw[8:]),
		Timestamp:  binary.LittleEndian.Uint32(raw[16:]),
		LeftIndex:  int64(binary.LittleEndian.Uint64(raw[20:])),
		RightIndex: int64(binary.LittleEndian.Uint64(raw[28:])),
	}, nil
}

// listIndexOrderPreserving maps a signed 64-bit list index onto an unsigned
// 64-bit big-endian-comparable form (flip the sign bit), the same trick
// EncodeOrderedScore uses for doubles, so that negative-growing left
// indices still sort before positive-growing right indices in the data-key
// iterator order spec.md §4.6 requires (LRANGE iterates between encoded
// index bounds).
func listIndexOrderPreserving(idx int64) uint64 {
	return uint64(idx) ^ (1 << 63)
}

func listIndexFromOrderPreserving(ordered uint64) int64 {
	return int64(ordered ^ (1 << 63))
}

// ListDataKey packs the lists data-key layout:
// user-key-len(4 BE) ‖ user-key ‖ version(8 BE) ‖ index(8 BE).
func ListDataKey(userKey string, version uint64, index int64) []byte {
	buf := make([]byte, UserKeyPrefixLen(userKey)+8+8)
	pos := PutUserKeyPrefix(buf, 0, userKey)
	binary.BigEndian.PutUint64(buf[pos:], version)
	pos += 8
	binary.BigEndian.PutUint64(buf[pos:], listIndexOrderPreserving(index))
	return buf
}

// ListDataKeyPrefix returns the prefix shared by every index of
// (userKey, version).
func ListDataKeyPrefix(userKey string, version uint64) []byte {
	return KeyPrefix(userKey, version, 8)
}

// ListIndexBound encodes a seek boundary for LRANGE/LTRIM at the given
// logical index.
func ListIndexBound(userKey string, version uint64, index int64) []byte {
	return ListDataKey(userKey, version, index)
}

// DecodeListDataKey extracts the version and index from a lists data-key.
func DecodeListDataKey(key []byte) (userKey string, version uint64, index int64, err error) {
	uk, suffix, err := SplitDataKeyPrefix(key)
	if err != nil {
		return "", 0, 0, err
	}
	if len(suffix) < 16 {
		return "", 0, 0, ErrShortBuffer
	}
	version = binary.BigEndian.Uint64(suffix[:8])
	index = listIndexFromOrderPreserving(binary.BigEndian.Uint64(suffix[8:16]))
	return uk, version, index, nil
}
