package codec

import (
	"encoding/binary"
	"math"
)

// ZSetMeta is the sorted-sets engine's meta-value layout: count(4 LE),
// version(4 LE), timestamp(4 LE).
type ZSetMeta struct {
	Count     uint32
	Version   uint32
	Timestamp uint32
}

// Encode packs m into its on-disk meta-value form.
func (m ZSetMeta) Encode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:], m.Count)
	binary.LittleEndian.PutUint32(buf[4:], m.Version)
	binary.LittleEndian.PutUint32(buf[8:], m.Timestamp)
	return buf
}

// DecodeZSetMeta parses a meta-value produced by ZSetMeta.Encode.
func DecodeZSetMeta(raw []byte) (ZSetMeta, error) {
	if len(raw) < 12 {
		return ZSetMeta{}, ErrShortBuffer
	}
	return ZSetMeta{
		Count:     binary.LittleEndian.Uint32(raw[0:]),
		Version:   binary.LittleEndian.Uint32(raw[4:]),
		Timestamp: binary.LittleEndian.Uint32(raw[8:]),
	}, nil
}

// ZSetMemberKey packs the by-member index's data-key layout:
// user-key-len(4 BE) ‖ user-key ‖ version(4 BE) ‖ member.
// Its value is the score, encoded as an 8-byte little-endian double
// (spec.md §4.1 "value = score(8 LE-double)").
func ZSetMemberKey(userKey string, version uint32, member string) []byte {
	buf := make([]byte, UserKeyPrefixLen(userKey)+4+len(member))
	pos := PutUserKeyPrefix(buf, 0, userKey)
	binary.BigEndian.PutUint32(buf[pos:], version)
	pos += 4
	copy(buf[pos:], member)
	return buf
}

// ZSetMemberKeyPrefix returns the prefix shared by every member of
// (userKey, version) in the by-member index.
func ZSetMemberKeyPrefix(userKey string, version uint32) []byte {
	return KeyPrefix(userKey, uint64(version), 4)
}

// DecodeZSetMemberKey extracts the member from a by-member index key.
func DecodeZSetMemberKey(key []byte) (userKey string, version uint32, member string, err error) {
	uk, suffix, err := SplitDataKeyPrefix(key)
	if err != nil {
		return "", 0, "", err
	}
	if len(suffix) < 4 {
		return "", 0, "", ErrShortBuffer
	}
	return uk, binary.BigEndian.Uint32(suffix[:4]), string(suffix[4:]), nil
}

// EncodeScoreValue packs a score as the 8-byte little-endian double stored
// as the by-member index's value.
func EncodeScoreValue(score float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(score))
	return buf
}

// DecodeScoreValue unpacks a score previously packed by EncodeScoreValue.
func DecodeScoreValue(raw []byte) (float64, error) {
	if len(raw) < 8 {
		return 0, ErrShortBuffer
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(raw)), nil
}

// ZSetScoreKey packs the by-score index's data-key layout:
// user-key-len(4 BE) ‖ user-key ‖ version(4 BE) ‖ score(8 BE, order-
// preserving) ‖ member. The value stored for this key is an empty
// sentinel; the index exists purely for its iteration order.
func ZSetScoreKey(userKey string, version uint32, score float64, member string) []byte {
	buf := make([]byte, UserKeyPrefixLen(userKey)+4+8+len(member))
	pos := PutUserKeyPrefix(buf, 0, userKey)
	binary.BigEndian.PutUint32(buf[pos:], version)
	pos += 4
	binary.BigEndian.PutUint64(buf[pos:], EncodeOrderedScore(score))
	pos += 8
	copy(buf[pos:], member)
	return buf
}

// ZSetScoreKeyPrefix returns the prefix shared by every (score, member)
// pair of (userKey, version) in the by-score index.
func ZSetScoreKeyPrefix(userKey string, version uint32) []byte {
	return KeyPrefix(userKey, uint64(version), 4)
}

// ZSetScoreBound encodes a seek boundary for a given score, used to jump
// directly to a ZRANGEBYSCORE/ZCOUNT boundary instead of a full scan.
func ZSetScoreBound(userKey string, version uint32, score float64) []byte {
	buf := make([]byte, UserKeyPrefixLen(userKey)+4+8)
	pos := PutUserKeyPrefix(buf, 0, userKey)
	binary.BigEndian.PutUint32(buf[pos:], version)
	pos += 4
	binary.BigEndian.PutUint64(buf[pos:], EncodeOrderedScore(score))
	return buf
}

// DecodeZSetScoreKey extracts the score and member from a by-score index key.
func DecodeZSetScoreKey(key []byte) (userKey string, version uint32, score float64, member string, err error) {
	uk, suffix, err := SplitDataKeyPrefix(key)
	if err != nil {
		return "", 0, 0, "", err
	}
	if len(suffix) < 12 {
		return "", 0, 0, "", ErrShortBuffer
	}
	version = binary.BigEndian.Uint32(suffix[:4])
	score = DecodeOrderedScore(binary.BigEndian.Uint64(suffix[4:12]))
	member = string(suffix[12:])
	return uk, version, score, member, nil
}
