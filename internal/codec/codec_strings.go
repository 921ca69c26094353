package codec

import "encoding/binary"

// StringMeta is the strings engine's meta-value layout: value-bytes,
// version(4 LE), timestamp(4 LE). The value is stored inline in the meta
// record; strings has no separate data column family (spec.md §4.1).
type StringMeta struct {
	Value     []byte
	Version   uint32
	Timestamp uint32 // absolute expiration; 0 = none
}

// Encode packs m into its on-disk meta-value form.
func (m StringMeta) Encode() []byte {
	buf := make([]byte, len(m.Value)+8)
	pos := copy(buf, m.Value)
	binary.LittleEndian.PutUint32(buf[pos:], m.Version)
	pos += 4
	binary.LittleEndian.PutUint32(buf[pos:], m.Timestamp)
	return buf
}

// DecodeStringMeta parses a meta-value produced by StringMeta.Encode.
func DecodeStringMeta(raw []byte) (StringMeta, error) {
	if len(raw) < 8 {
		return StringMeta{}, ErrShortBuffer
	}
	n := len(raw)
	return StringMeta{
		Value:     raw[:n-8],
		Version:   binary.LittleEndian.Uint32(raw[n-8 : n-4]),
		Timestamp: binary.LittleEndian.Uint32(raw[n-4:]),
	}, nil
}
