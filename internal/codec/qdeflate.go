package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
)

const (
	QDeflateName    = "qdeflate"
	qdeflateMagic   = "QDFL"
	qdeflateVersion = 1
)

// Quantized attributes followed by a zlib stream.
//
// Header (little endian):
//
//	magic "QDFL" | version uint16 | attributeCount uint16 | vertexCount uint32 | indexCount uint32
//	per attribute: nameLength uint8 | name | components uint8 | quantizationBits uint8 |
//	               if quantized: min float32 * components | range float32 * components
//
// The zlib stream holds the indices as uint32 followed by every attribute, either
// float32 values or quantized uint8/uint16 values.
type QDeflateCodec struct {
	level int
}

func NewQDeflateCodec() *QDeflateCodec {
	return &QDeflateCodec{level: zlib.DefaultCompression}
}

func (c *QDeflateCodec) Name() string {
	return QDeflateName
}

type quantizedAttribute struct {
	*Attribute
	min   []float32
	rng   []float32
	scale float64
}

func (c *QDeflateCodec) Encode(mesh *Mesh) ([]byte, error) {
	header := new(bytes.Buffer)
	header.WriteString(qdeflateMagic)
	write := func(v interface{}) {
		binary.Write(header, binary.LittleEndian, v)
	}
	write(uint16(qdeflateVersion))
	write(uint16(len(mesh.Attributes)))
	write(uint32(mesh.VertexCount))
	write(uint32(len(mesh.Indices)))

	attrs := make([]quantizedAttribute, len(mesh.Attributes))
	for i, a := range mesh.Attributes {
		if a.Count() != mesh.VertexCount {
			return nil, fmt.Errorf("attribute %s has %d values, expected %d", a.Name, a.Count(), mesh.VertexCount)
		}
		if a.QuantizationBits != 0 && a.QuantizationBits != 8 && a.QuantizationBits != 16 {
			return nil, fmt.Errorf("attribute %s: unsupported quantization bits %d", a.Name, a.QuantizationBits)
		}
		if len(a.Name) > math.MaxUint8 {
			return nil, fmt.Errorf("attribute name %q too long", a.Name)
		}
		header.WriteByte(uint8(len(a.Name)))
		header.WriteString(a.Name)
		header.WriteByte(uint8(a.Components))
		header.WriteByte(uint8(a.QuantizationBits))

		qa := quantizedAttribute{Attribute: a}
		if a.QuantizationBits > 0 {
			qa.min, qa.rng = attributeRange(a)
			qa.scale = float64(uint32(1)<<a.QuantizationBits - 1)
			write(qa.min)
			write(qa.rng)
		}
		attrs[i] = qa
	}

	payload := new(bytes.Buffer)
	zw, err := zlib.NewWriterLevel(payload, c.level)
	if err != nil {
		return nil, err
	}
	if err := binary.Write(zw, binary.LittleEndian, mesh.Indices); err != nil {
		return nil, err
	}
	for _, qa := range attrs {
		if err := writeAttribute(zw, qa); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	return append(header.Bytes(), payload.Bytes()...), nil
}

func attributeRange(a *Attribute) ([]float32, []float32) {
	min := make([]float32, a.Components)
	max := make([]float32, a.Components)
	for c := 0; c < a.Components; c++ {
		min[c] = float32(math.Inf(1))
		max[c] = float32(math.Inf(-1))
	}
	for i, v := range a.Values {
		c := i % a.Components
		min[c] = float32(math.Min(float64(min[c]), v))
		max[c] = float32(math.Max(float64(max[c]), v))
	}
	rng := make([]float32, a.Components)
	for c := range rng {
		rng[c] = max[c] - min[c]
	}
	return min, rng
}

func writeAttribute(w io.Writer, qa quantizedAttribute) error {
	switch qa.QuantizationBits {
	case 0:
		values := make([]float32, len(qa.Values))
		for i, v := range qa.Values {
			values[i] = float32(v)
		}
		return binary.Write(w, binary.LittleEndian, values)
	case 8:
		values := make([]uint8, len(qa.Values))
		for i, v := range qa.Values {
			values[i] = uint8(qa.quantize(i, v))
		}
		_, err := w.Write(values)
		return err
	default:
		values := make([]uint16, len(qa.Values))
		for i, v := range qa.Values {
			values[i] = uint16(qa.quantize(i, v))
		}
		return binary.Write(w, binary.LittleEndian, values)
	}
}

func (qa quantizedAttribute) quantize(i int, v float64) float64 {
	c := i % qa.Components
	if qa.rng[c] == 0 {
		return 0
	}
	return math.Round((v - float64(qa.min[c])) / float64(qa.rng[c]) * qa.scale)
}

func (c *QDeflateCodec) Decode(data []byte) (*Mesh, error) {
	r := bytes.NewReader(data)
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != qdeflateMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptStream)
	}
	var header struct {
		Version        uint16
		AttributeCount uint16
		VertexCount    uint32
		IndexCount     uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStream, err)
	}
	if header.Version != qdeflateVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptStream, header.Version)
	}

	mesh := &Mesh{VertexCount: int(header.VertexCount)}
	attrs := make([]quantizedAttribute, header.AttributeCount)
	for i := range attrs {
		nameLength, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptStream, err)
		}
		name := make([]byte, nameLength)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptStream, err)
		}
		var desc [2]uint8
		if _, err := io.ReadFull(r, desc[:]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptStream, err)
		}
		a := &Attribute{Name: string(name), Components: int(desc[0]), QuantizationBits: int(desc[1])}
		if a.Components == 0 {
			return nil, fmt.Errorf("%w: attribute %s has no components", ErrCorruptStream, a.Name)
		}
		qa := quantizedAttribute{Attribute: a}
		if a.QuantizationBits > 0 {
			qa.min = make([]float32, a.Components)
			qa.rng = make([]float32, a.Components)
			if err := binary.Read(r, binary.LittleEndian, qa.min); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptStream, err)
			}
			if err := binary.Read(r, binary.LittleEndian, qa.rng); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptStream, err)
			}
			qa.scale = float64(uint32(1)<<a.QuantizationBits - 1)
		}
		attrs[i] = qa
		mesh.Attributes = append(mesh.Attributes, a)
	}

	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStream, err)
	}
	defer zr.Close()

	mesh.Indices = make([]uint32, header.IndexCount)
	if err := binary.Read(zr, binary.LittleEndian, mesh.Indices); err != nil {
		return nil, fmt.Errorf("%w: indices: %v", ErrCorruptStream, err)
	}
	for _, qa := range attrs {
		if err := readAttribute(zr, qa, mesh.VertexCount); err != nil {
			return nil, fmt.Errorf("%w: attribute %s: %v", ErrCorruptStream, qa.Name, err)
		}
	}
	// drains the stream so that the trailing checksum is verified
	if _, err := io.Copy(io.Discard, zr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStream, err)
	}
	for _, index := range mesh.Indices {
		if int(index) >= mesh.VertexCount {
			return nil, fmt.Errorf("%w: index %d out of range", ErrCorruptStream, index)
		}
	}
	return mesh, nil
}

func readAttribute(r io.Reader, qa quantizedAttribute, vertexCount int) error {
	n := vertexCount * qa.Components
	qa.Values = make([]float64, n)
	switch qa.QuantizationBits {
	case 0:
		values := make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, values); err != nil {
			return err
		}
		for i, v := range values {
			qa.Values[i] = float64(v)
		}
	case 8:
		values := make([]uint8, n)
		if _, err := io.ReadFull(r, values); err != nil {
			return err
		}
		for i, v := range values {
			qa.Values[i] = qa.dequantize(i, float64(v))
		}
	case 16:
		values := make([]uint16, n)
		if err := binary.Read(r, binary.LittleEndian, values); err != nil {
			return err
		}
		for i, v := range values {
			qa.Values[i] = qa.dequantize(i, float64(v))
		}
	default:
		return fmt.Errorf("unsupported quantization bits %d", qa.QuantizationBits)
	}
	return nil
}

func (qa quantizedAttribute) dequantize(i int, q float64) float64 {
	c := i % qa.Components
	return float64(qa.min[c]) + q/qa.scale*float64(qa.rng[c])
}
