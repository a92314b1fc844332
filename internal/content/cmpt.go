package content

import (
	"encoding/binary"
)

const cmptHeaderSize = 16

func decodeCmpt(data []byte, opts *DecodeOptions) (*TileContent, error) {
	c := &TileContent{Format: FormatCMPT}
	if err := decodeCmptInto(c, data, 0, opts); err != nil {
		return nil, err
	}
	for _, child := range c.Children {
		c.FeatureCount += child.FeatureCount
	}
	return c, nil
}

// Decodes the inner tiles of a composite starting at base, nested composites are flattened into c
func decodeCmptInto(c *TileContent, data []byte, base int, opts *DecodeOptions) error {
	if len(data) < cmptHeaderSize {
		return newDecodeError(FormatCMPT, MalformedHeader, "payload of %d bytes is shorter than the header", len(data))
	}
	if string(data[:4]) != "cmpt" {
		return newDecodeError(FormatCMPT, MalformedHeader, "invalid magic %q", string(data[:4]))
	}
	if version := binary.LittleEndian.Uint32(data[4:]); version != 1 {
		return newDecodeError(FormatCMPT, UnsupportedVersion, "version %d", version)
	}
	byteLength := int(binary.LittleEndian.Uint32(data[8:]))
	tilesLength := int(binary.LittleEndian.Uint32(data[12:]))
	if byteLength > len(data) || byteLength < cmptHeaderSize {
		return newDecodeError(FormatCMPT, MalformedHeader, "byteLength %d does not fit the payload of %d bytes", byteLength, len(data))
	}

	offset := cmptHeaderSize
	for i := 0; i < tilesLength; i++ {
		if offset+12 > byteLength {
			return newDecodeError(FormatCMPT, CorruptBuffer, "inner tile %d header at offset %d exceeds byteLength %d", i, offset, byteLength)
		}
		innerLength := int(binary.LittleEndian.Uint32(data[offset+8:]))
		if innerLength < 12 || offset+innerLength > byteLength {
			return newDecodeError(FormatCMPT, CorruptBuffer, "inner tile %d of %d bytes at offset %d exceeds byteLength %d", i, innerLength, offset, byteLength)
		}
		inner := data[offset : offset+innerLength]
		format := SniffFormat(inner)
		switch format {
		case FormatCMPT:
			if err := decodeCmptInto(c, inner, base+offset, opts); err != nil {
				return err
			}
		case FormatB3DM, FormatI3DM, FormatPNTS, FormatGLB:
			child, err := decodeFormat(inner, format, opts)
			if err != nil {
				return err
			}
			c.Children = append(c.Children, child)
			c.InnerRanges = append(c.InnerRanges, ByteRange{Offset: base + offset, Length: innerLength})
		default:
			return newDecodeError(FormatCMPT, UnsupportedFormat, "inner tile %d has unknown magic %q", i, string(inner[:4]))
		}
		offset += innerLength
	}
	return nil
}
