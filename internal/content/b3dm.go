package content

import (
	"encoding/binary"

	"github.com/golang/geo/r3"
	"github.com/golang/glog"
)

const (
	b3dmHeaderSize = 28
	// First byte of a JSON string (0x22) or of a glTF magic, read as the highest byte of a little endian uint32
	legacyHeaderThreshold = 0x22000000
)

// Common header of the batched formats: lengths of the feature and batch tables
type tableHeader struct {
	Version            uint32
	ByteLength         int
	FeatureTableJSON   int
	FeatureTableBinary int
	BatchTableJSON     int
	BatchTableBinary   int
	BatchLength        int // legacy b3dm only
	HeaderSize         int
}

// Reads the magic, version, byteLength and the four table lengths
func readTableHeader(format Format, data []byte, magic string, headerSize int) (*tableHeader, error) {
	if len(data) < headerSize {
		return nil, newDecodeError(format, MalformedHeader, "payload of %d bytes is shorter than the %d bytes header", len(data), headerSize)
	}
	if string(data[:4]) != magic {
		return nil, newDecodeError(format, MalformedHeader, "invalid magic %q", string(data[:4]))
	}
	h := &tableHeader{
		Version:            binary.LittleEndian.Uint32(data[4:]),
		ByteLength:         int(binary.LittleEndian.Uint32(data[8:])),
		FeatureTableJSON:   int(binary.LittleEndian.Uint32(data[12:])),
		FeatureTableBinary: int(binary.LittleEndian.Uint32(data[16:])),
		BatchTableJSON:     int(binary.LittleEndian.Uint32(data[20:])),
		BatchTableBinary:   int(binary.LittleEndian.Uint32(data[24:])),
		HeaderSize:         headerSize,
	}
	if h.Version != 1 {
		return nil, newDecodeError(format, UnsupportedVersion, "version %d", h.Version)
	}
	if h.ByteLength > len(data) {
		return nil, newDecodeError(format, MalformedHeader, "byteLength %d exceeds payload of %d bytes", h.ByteLength, len(data))
	}
	return h, nil
}

// Slices the feature table, batch table and trailing body out of the payload
func (h *tableHeader) sections(format Format, data []byte) (ftJSON, ftBin, btJSON, btBin, body []byte, err error) {
	offset := h.HeaderSize
	take := func(n int) []byte {
		if err != nil {
			return nil
		}
		if n < 0 || offset+n > h.ByteLength {
			err = newDecodeError(format, CorruptBuffer, "section of %d bytes at offset %d exceeds byteLength %d", n, offset, h.ByteLength)
			return nil
		}
		s := data[offset : offset+n]
		offset += n
		return s
	}
	ftJSON = take(h.FeatureTableJSON)
	ftBin = take(h.FeatureTableBinary)
	btJSON = take(h.BatchTableJSON)
	btBin = take(h.BatchTableBinary)
	if err != nil {
		return
	}
	body = data[offset:h.ByteLength]
	return
}

// Detects the two legacy b3dm header layouts and rewrites the lengths in the current layout
func fixLegacyB3dmHeader(h *tableHeader) {
	switch {
	case h.BatchTableJSON >= legacyHeaderThreshold:
		// [batchLength] [batchTableByteLength], header of 20 bytes
		glog.Warningln("b3dm uses the deprecated batchLength/batchTableByteLength header")
		h.BatchLength = h.FeatureTableJSON
		h.BatchTableJSON = h.FeatureTableBinary
		h.BatchTableBinary = 0
		h.FeatureTableJSON = 0
		h.FeatureTableBinary = 0
		h.HeaderSize = b3dmHeaderSize - 8
	case h.BatchTableBinary >= legacyHeaderThreshold:
		// [batchTableJsonByteLength] [batchTableBinaryByteLength] [batchLength], header of 24 bytes
		glog.Warningln("b3dm uses the deprecated batchTableJson/batchTableBinary/batchLength header")
		h.BatchLength = h.BatchTableJSON
		h.BatchTableJSON = h.FeatureTableJSON
		h.BatchTableBinary = h.FeatureTableBinary
		h.FeatureTableJSON = 0
		h.FeatureTableBinary = 0
		h.HeaderSize = b3dmHeaderSize - 4
	}
}

// Reads RTC_CENTER from the feature table
func readRTCCenter(ft *FeatureTable) (r3.Vector, error) {
	values, ok, err := ft.GlobalFloats("RTC_CENTER", 3)
	if err != nil || !ok {
		return r3.Vector{}, err
	}
	return r3.Vector{X: values[0], Y: values[1], Z: values[2]}, nil
}

func decodeB3dm(data []byte, opts *DecodeOptions) (*TileContent, error) {
	h, err := readTableHeader(FormatB3DM, data, "b3dm", b3dmHeaderSize)
	if err != nil {
		return nil, err
	}
	fixLegacyB3dmHeader(h)

	ftJSON, ftBin, btJSON, btBin, body, err := h.sections(FormatB3DM, data)
	if err != nil {
		return nil, err
	}
	ft, err := parseFeatureTable(FormatB3DM, ftJSON, ftBin)
	if err != nil {
		return nil, err
	}

	batchLength, ok, err := ft.GlobalInt("BATCH_LENGTH")
	if err != nil {
		return nil, err
	}
	if !ok {
		batchLength = h.BatchLength
	}
	rtc, err := readRTCCenter(ft)
	if err != nil {
		return nil, err
	}

	batchTable, err := ParseBatchTable(FormatB3DM, btJSON, btBin, batchLength)
	if err != nil {
		return nil, err
	}

	meshes, err := parseGlb(FormatB3DM, body, opts)
	if err != nil {
		return nil, err
	}

	return &TileContent{
		Format:       FormatB3DM,
		Meshes:       meshes,
		BatchTable:   batchTable,
		FeatureCount: batchLength,
		RTCCenter:    rtc,
		YUp:          true,
	}, nil
}
