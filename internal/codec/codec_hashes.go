package codec

import "encoding/binary"

// HashMeta is the hashes engine's meta-value layout: count(4 LE),
// version(4 LE), timestamp(4 LE).
type HashMeta struct {
	Count     uint32
	Version   uint32
	Timestamp uint32
}

// Encode packs m into its on-disk meta-value form.
func (m HashMeta) Encode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:], m.Count)
	binary.LittleEndian.PutUint32(buf[4:], m.Version)
	binary.LittleEndian.PutUint32(buf[8:], m.Timestamp)
	return buf
}

// DecodeHashMeta parses a meta-value produced by HashMeta.Encode.
func DecodeHashMeta(raw []byte) (HashMeta, error) {
	if len(raw) < 12 {
		return HashMeta{}, ErrShortBuffer
	}
	return HashMeta{
		Count:     binary.LittleEndian.Uint32(raw[0:]),
		Version:   binary.LittleEndian.Uint32(raw[4:]),
		Timestamp: binary.LittleEndian.Uint32(raw[8:]),
	}, nil
}

// HashDataKey packs the hashes data-key layout:
// user-key-len(4 BE) ‖ user-key ‖ version(4 BE) ‖ field.
func HashDataKey(userKey string, version uint32, field string) []byte {
	buf := make([]byte, UserKeyPrefixLen(userKey)+4+len(field))
	pos := PutUserKeyPrefix(buf, 0, userKey)
	binary.BigEndian.PutUint32(buf[pos:], version)
	pos += 4
	copy(buf[pos:], field)
	return buf
}

// HashDataKeyPrefix returns the prefix shared by every field of
// (userKey, version), used to seek/iterate/compact a hash's field range.
func HashDataKeyPrefix(userKey string, version uint32) []byte {
	return KeyPrefix(userKey, uint64(version), 4)
}

// DecodeHashDataKey splits a hashes data-key into its user-key, version
// and field, parsing the length-prefixed user-key from the key itself.
func DecodeHashDataKey(key []byte) (userKey string, version uint32, field string, err error) {
	uk, suffix, err := SplitDataKeyPrefix(key)
	if err != nil {
		return "", 0, "", err
	}
	if len(suffix) < 4 {
		return "", 0, "", ErrShortBuffer
	}
	return uk, binary.BigEndian.Uint32(suffix[:4]), string(suffix[4:]), nil
}
