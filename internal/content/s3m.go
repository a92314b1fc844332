package content

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/golang/geo/r3"
	"github.com/klauspost/compress/zlib"
	"github.com/shopspring/decimal"
)

// Vertex package flags of a S3M block
const (
	S3MCompressedVertex uint32 = 1 << iota
	S3MHasNormal
	S3MHasColor
	S3MHasBatchID
)

// Index types of a S3M vertex package
const (
	S3MIndexUint16 uint8 = 0
	S3MIndexUint32 uint8 = 1
)

// Little endian reader that records the first out of bounds read
type blockReader struct {
	data   []byte
	offset int
	err    error
}

func (r *blockReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.data) {
		r.err = newDecodeError(FormatS3M, CorruptBuffer, "read of %d bytes at offset %d exceeds block of %d bytes", n, r.offset, len(r.data))
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *blockReader) readUint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *blockReader) readUint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *blockReader) readFloat32() float32 {
	return math.Float32frombits(r.readUint32())
}

func (r *blockReader) readFloat64() float64 {
	if b := r.take(8); b != nil {
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

func (r *blockReader) readString() string {
	return string(r.take(int(r.readUint32())))
}

// count sanity check against the remaining bytes, elementSize bytes per element
func (r *blockReader) count(elementSize int) int {
	n := int(r.readUint32())
	if r.err == nil && n*elementSize > len(r.data)-r.offset {
		r.err = newDecodeError(FormatS3M, CorruptBuffer, "count %d at offset %d exceeds block of %d bytes", n, r.offset, len(r.data))
		return 0
	}
	return n
}

// Returns the major schema revision of a S3M block version
func S3MMajorVersion(version float32) int64 {
	return decimal.NewFromFloat32(version).IntPart()
}

func decodeS3m(data []byte, opts *DecodeOptions) (*TileContent, error) {
	header := &blockReader{data: data}
	version := header.readFloat32()
	byteLength := int(header.readUint32())
	if header.err != nil {
		return nil, newDecodeError(FormatS3M, MalformedHeader, "block of %d bytes is shorter than the header", len(data))
	}
	major := S3MMajorVersion(version)
	if major != 2 && major != 3 {
		return nil, newDecodeError(FormatS3M, UnsupportedVersion, "version %v", version)
	}
	if major == 3 {
		// flags, reserved
		header.readUint32()
	}
	zippedLength := int(header.readUint32())
	zipped := header.take(zippedLength)
	if header.err != nil {
		return nil, newDecodeError(FormatS3M, MalformedHeader, "zipped payload of %d bytes exceeds the block", zippedLength)
	}

	zr, err := zlib.NewReader(bytes.NewReader(zipped))
	if err != nil {
		return nil, wrapDecodeError(FormatS3M, CorruptBuffer, err, "payload is not zlib compressed")
	}
	payload, err := io.ReadAll(zr)
	zr.Close()
	if err != nil {
		return nil, wrapDecodeError(FormatS3M, CorruptBuffer, err, "inflate payload")
	}
	if len(payload) != byteLength {
		return nil, newDecodeError(FormatS3M, CorruptBuffer, "inflated %d bytes, header declares %d", len(payload), byteLength)
	}

	r := &blockReader{data: payload}
	c := &TileContent{Format: FormatS3M}
	c.ChildReferences = readS3MChildReferences(r)

	packages := r.count(12)
	maxBatchID := -1
	for i := 0; i < packages && r.err == nil; i++ {
		mesh, batchMax := readS3MVertexPackage(r, major)
		if r.err != nil {
			break
		}
		if batchMax > maxBatchID {
			maxBatchID = batchMax
		}
		c.Meshes = append(c.Meshes, mesh)
	}
	btJSON := r.take(r.count(1))
	if r.err != nil {
		return nil, r.err
	}

	c.FeatureCount = maxBatchID + 1
	if c.BatchTable, err = ParseBatchTable(FormatS3M, btJSON, nil, c.FeatureCount); err != nil {
		return nil, err
	}
	return c, nil
}

func readS3MChildReferences(r *blockReader) []ChildReference {
	n := r.count(4 + 32 + 4)
	refs := make([]ChildReference, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		ref := ChildReference{URI: r.readString()}
		ref.Center = r3.Vector{X: r.readFloat64(), Y: r.readFloat64(), Z: r.readFloat64()}
		ref.Radius = r.readFloat64()
		ref.RangeValue = float64(r.readFloat32())
		refs = append(refs, ref)
	}
	return refs
}

// Reads one vertex package and returns the mesh and its largest batch id, -1 when the package is unbatched
func readS3MVertexPackage(r *blockReader, major int64) (*Mesh, int) {
	r.readString() // name
	vertexCount := r.count(0)
	flags := r.readUint32()
	mesh := NewMesh(ModeTriangles)

	positions := make([]float32, vertexCount*3)
	if flags&S3MCompressedVertex != 0 {
		var origin, step [3]float32
		for c := range origin {
			origin[c] = r.readFloat32()
		}
		for c := range step {
			step[c] = r.readFloat32()
		}
		raw := r.take(vertexCount * 6)
		if r.err != nil {
			return nil, -1
		}
		for i := range positions {
			q := int16(binary.LittleEndian.Uint16(raw[i*2:]))
			positions[i] = origin[i%3] + float32(q)*step[i%3]
		}
	} else {
		raw := r.take(vertexCount * 12)
		if r.err != nil {
			return nil, -1
		}
		for i := range positions {
			positions[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}
	mesh.Attributes[AttributePosition] = NewFloat32Array(positions, 3)

	if flags&S3MHasNormal != 0 {
		arr, err := ReadTypedArray(r.take(vertexCount*12), 0, 0, Float, 3, vertexCount)
		if r.err != nil {
			return nil, -1
		}
		if err != nil {
			r.err = wrapDecodeError(FormatS3M, CorruptBuffer, err, "normals")
			return nil, -1
		}
		mesh.Attributes[AttributeNormal] = arr
	}

	hasColor, hasBatch := flags&S3MHasColor != 0, flags&S3MHasBatchID != 0
	var colors []float32
	var batchIDs []float32
	if hasColor {
		colors = make([]float32, vertexCount*4)
	}
	if hasBatch {
		batchIDs = make([]float32, vertexCount)
	}
	readColor := func(i int, b []byte) {
		for c := 0; c < 4; c++ {
			colors[i*4+c] = float32(float64(b[c]) / 255)
		}
	}
	if major >= 3 && hasColor && hasBatch {
		// interleaved [rgba][batch id] per vertex
		raw := r.take(vertexCount * 8)
		if r.err != nil {
			return nil, -1
		}
		for i := 0; i < vertexCount; i++ {
			readColor(i, raw[i*8:])
			batchIDs[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*8+4:]))
		}
	} else {
		if hasColor {
			raw := r.take(vertexCount * 4)
			if r.err != nil {
				return nil, -1
			}
			for i := 0; i < vertexCount; i++ {
				readColor(i, raw[i*4:])
			}
		}
		if hasBatch {
			raw := r.take(vertexCount * 4)
			if r.err != nil {
				return nil, -1
			}
			for i := range batchIDs {
				batchIDs[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
			}
		}
	}
	maxBatchID := -1
	if hasColor {
		mesh.Attributes[AttributeColor] = NewFloat32Array(colors, 4)
	}
	if hasBatch {
		for _, id := range batchIDs {
			if int(id) > maxBatchID {
				maxBatchID = int(id)
			}
		}
		mesh.Attributes[AttributeBatchID] = NewFloat32Array(batchIDs, 1)
	}

	indexCount := r.count(2)
	indexType := r.readUint8()
	r.take(3)
	switch indexType {
	case S3MIndexUint16:
		arr, err := ReadTypedArray(r.take(indexCount*2), 0, 0, UnsignedShort, 1, indexCount)
		if r.err == nil && err != nil {
			r.err = wrapDecodeError(FormatS3M, CorruptBuffer, err, "indices")
		}
		mesh.Indices = arr
	case S3MIndexUint32:
		arr, err := ReadTypedArray(r.take(indexCount*4), 0, 0, UnsignedInt, 1, indexCount)
		if r.err == nil && err != nil {
			r.err = wrapDecodeError(FormatS3M, CorruptBuffer, err, "indices")
		}
		mesh.Indices = arr
	default:
		if r.err == nil {
			r.err = newDecodeError(FormatS3M, CorruptBuffer, "unknown index type %d", indexType)
		}
	}
	if r.err != nil {
		return nil, -1
	}
	for i := 0; i < indexCount; i++ {
		if int(mesh.Indices.Float64(i)) >= vertexCount {
			r.err = newDecodeError(FormatS3M, CorruptBuffer, "index %d out of %d vertices", int(mesh.Indices.Float64(i)), vertexCount)
			return nil, -1
		}
	}
	return mesh, maxBatchID
}
