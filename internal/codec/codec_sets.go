package codec

import "encoding/binary"

// SetMeta is the sets engine's meta-value layout: count(4 LE),
// version(4 LE), timestamp(4 LE).
type SetMeta struct {
	Count     uint32
	Version   uint32
	Timestamp uint32
}

// Encode packs m into its on-disk meta-value form.
func (m SetMeta) Encode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:], m.Count)
	binary.LittleEndian.PutUint32(buf[4:], m.Version)
	binary.LittleEndian.PutUint32(buf[8:], m.Timestamp)
	return buf
}

// DecodeSetMeta parses a meta-value produced by SetMeta.Encode.
func DecodeSetMeta(raw []byte) (SetMeta, error) {
	if len(raw) < 12 {
		return SetMeta{}, ErrShortBuffer
	}
	return SetMeta{
		Count:     binary.LittleEndian.Uint32(raw[0:]),
		Version:   binary.LittleEndian.Uint32(raw[4:]),
		Timestamp: binary.LittleEndian.Uint32(raw[8:]),
	}, nil
}

// SetDataKey packs the sets data-key layout:
// user-key-len(4 BE) ‖ user-key ‖ version(4 BE) ‖ member.
func SetDataKey(userKey string, version uint32, member string) []byte {
	buf := make([]byte, UserKeyPrefixLen(userKey)+4+len(member))
	pos := PutUserKeyPrefix(buf, 0, userKey)
	binary.BigEndian.PutUint32(buf[pos:], version)
	pos += 4
	copy(buf[pos:], member)
	return buf
}

// SetDataKeyPrefix returns the prefix shared by every member of
// (userKey, version).
func SetDataKeyPrefix(userKey string, version uint32) []byte {
	return KeyPrefix(userKey, uint64(version), 4)
}

// DecodeSetDataKey extracts the member from a sets data-key.
func DecodeSetDataKey(key []byte) (userKey string, version uint32, member string, err error) {
	uk, suffix, err := SplitDataKeyPrefix(key)
	if err != nil {
		return "", 0, "", err
	}
	if len(suffix) < 4 {
		return "", 0, "", ErrShortBuffer
	}
	return uk, binary.BigEndian.Uint32(suffix[:4]), string(suffix[4:]), nil
}
