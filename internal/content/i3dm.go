package content

import (
	"encoding/binary"
	"math"

	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/golang/geo/r3"
	"github.com/golang/glog"
)

const (
	i3dmHeaderSize = 32

	// Attachment key of the external glTF of an i3dm with gltfFormat 0
	AttachmentGLTF = "gltf"
)

func signNotZero(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// Decodes an oct encoded unit vector whose components are in [0, rangeMax]
func octDecode(x, y, rangeMax float64) r3.Vector {
	v := r3.Vector{X: x/rangeMax*2 - 1, Y: y/rangeMax*2 - 1}
	v.Z = 1 - math.Abs(v.X) - math.Abs(v.Y)
	if v.Z < 0 {
		oldX := v.X
		v.X = (1 - math.Abs(v.Y)) * signNotZero(oldX)
		v.Y = (1 - math.Abs(oldX)) * signNotZero(v.Y)
	}
	return v.Normalize()
}

// Per instance fields of an i3dm feature table
type instanceFields struct {
	count     int
	positions *TypedArray
	quantized bool
	offset    r3.Vector
	scale     r3.Vector
	up        *TypedArray
	right     *TypedArray
	oct       bool
	scales    *TypedArray
	nonUnif   *TypedArray
	enu       bool
	rtc       r3.Vector
}

func (f *instanceFields) position(i int) r3.Vector {
	p := r3.Vector{X: f.positions.At(i, 0), Y: f.positions.At(i, 1), Z: f.positions.At(i, 2)}
	if f.quantized {
		p = r3.Vector{
			X: f.offset.X + p.X/65535*f.scale.X,
			Y: f.offset.Y + p.Y/65535*f.scale.Y,
			Z: f.offset.Z + p.Z/65535*f.scale.Z,
		}
	}
	return p
}

func (f *instanceFields) rotation(i int, position r3.Vector) (right, up, forward r3.Vector) {
	switch {
	case f.up != nil && f.right != nil:
		if f.oct {
			up = octDecode(f.up.At(i, 0), f.up.At(i, 1), 65535)
			right = octDecode(f.right.At(i, 0), f.right.At(i, 1), 65535)
		} else {
			up = r3.Vector{X: f.up.At(i, 0), Y: f.up.At(i, 1), Z: f.up.At(i, 2)}
			right = r3.Vector{X: f.right.At(i, 0), Y: f.right.At(i, 1), Z: f.right.At(i, 2)}
		}
		forward = right.Cross(up).Normalize()
		return right, up, forward
	case f.enu:
		enu := geometry.EastNorthUpToFixedFrame(position.Add(f.rtc))
		return enu.Column(0), enu.Column(1), enu.Column(2)
	}
	return r3.Vector{X: 1}, r3.Vector{Y: 1}, r3.Vector{Z: 1}
}

func (f *instanceFields) scaleOf(i int) r3.Vector {
	s := r3.Vector{X: 1, Y: 1, Z: 1}
	if f.scales != nil {
		s = s.Mul(f.scales.At(i, 0))
	}
	if f.nonUnif != nil {
		s = r3.Vector{X: s.X * f.nonUnif.At(i, 0), Y: s.Y * f.nonUnif.At(i, 1), Z: s.Z * f.nonUnif.At(i, 2)}
	}
	return s
}

// Instance matrix is translation * rotation * scale
func (f *instanceFields) matrix(i int) geometry.Matrix4 {
	position := f.position(i)
	right, up, forward := f.rotation(i, position)
	s := f.scaleOf(i)
	return geometry.NewMatrix4FromAxes(right.Mul(s.X), up.Mul(s.Y), forward.Mul(s.Z), position)
}

func readInstanceFields(ft *FeatureTable, count int) (*instanceFields, error) {
	f := &instanceFields{count: count, enu: ft.Bool("EAST_NORTH_UP")}
	var err error
	var ok bool
	if f.positions, ok, err = ft.Property("POSITION", count, 3, Float); err != nil {
		return nil, err
	}
	if !ok {
		if f.positions, ok, err = ft.Property("POSITION_QUANTIZED", count, 3, UnsignedShort); err != nil {
			return nil, err
		}
		if !ok {
			return nil, newDecodeError(FormatI3DM, MissingAttribute, "feature table has neither POSITION nor POSITION_QUANTIZED")
		}
		f.quantized = true
		offset, okOffset, err := ft.GlobalFloats("QUANTIZED_VOLUME_OFFSET", 3)
		if err != nil {
			return nil, err
		}
		scale, okScale, err := ft.GlobalFloats("QUANTIZED_VOLUME_SCALE", 3)
		if err != nil {
			return nil, err
		}
		if !okOffset || !okScale {
			return nil, newDecodeError(FormatI3DM, MissingAttribute, "POSITION_QUANTIZED requires QUANTIZED_VOLUME_OFFSET and QUANTIZED_VOLUME_SCALE")
		}
		f.offset = r3.Vector{X: offset[0], Y: offset[1], Z: offset[2]}
		f.scale = r3.Vector{X: scale[0], Y: scale[1], Z: scale[2]}
	}

	if f.up, _, err = ft.Property("NORMAL_UP", count, 3, Float); err != nil {
		return nil, err
	}
	if f.right, _, err = ft.Property("NORMAL_RIGHT", count, 3, Float); err != nil {
		return nil, err
	}
	if f.up == nil || f.right == nil {
		upOct, _, err := ft.Property("NORMAL_UP_OCT32P", count, 2, UnsignedShort)
		if err != nil {
			return nil, err
		}
		rightOct, _, err := ft.Property("NORMAL_RIGHT_OCT32P", count, 2, UnsignedShort)
		if err != nil {
			return nil, err
		}
		if upOct != nil && rightOct != nil {
			f.up, f.right, f.oct = upOct, rightOct, true
		} else {
			f.up, f.right = nil, nil
		}
	}
	if f.scales, _, err = ft.Property("SCALE", count, 1, Float); err != nil {
		return nil, err
	}
	if f.nonUnif, _, err = ft.Property("SCALE_NON_UNIFORM", count, 3, Float); err != nil {
		return nil, err
	}
	return f, nil
}

func decodeI3dm(data []byte, opts *DecodeOptions) (*TileContent, error) {
	h, err := readTableHeader(FormatI3DM, data, "i3dm", i3dmHeaderSize)
	if err != nil {
		return nil, err
	}
	gltfFormat := binary.LittleEndian.Uint32(data[28:])

	ftJSON, ftBin, btJSON, btBin, body, err := h.sections(FormatI3DM, data)
	if err != nil {
		return nil, err
	}
	ft, err := parseFeatureTable(FormatI3DM, ftJSON, ftBin)
	if err != nil {
		return nil, err
	}

	count, ok, err := ft.GlobalInt("INSTANCES_LENGTH")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newDecodeError(FormatI3DM, MissingAttribute, "feature table has no INSTANCES_LENGTH")
	}
	rtc, err := readRTCCenter(ft)
	if err != nil {
		return nil, err
	}
	fields, err := readInstanceFields(ft, count)
	if err != nil {
		return nil, err
	}
	fields.rtc = rtc

	instances := make([]geometry.Matrix4, count)
	for i := range instances {
		instances[i] = fields.matrix(i)
	}

	batchIDs, _, err := ft.Property("BATCH_ID", count, 1, UnsignedShort)
	if err != nil {
		return nil, err
	}
	featureCount := count
	if batchIDs != nil {
		featureCount = 0
		for i := 0; i < batchIDs.Len(); i++ {
			if id := int(batchIDs.Float64(i)) + 1; id > featureCount {
				featureCount = id
			}
		}
	}
	batchTable, err := ParseBatchTable(FormatI3DM, btJSON, btBin, featureCount)
	if err != nil {
		return nil, err
	}

	c := &TileContent{
		Format:       FormatI3DM,
		BatchTable:   batchTable,
		FeatureCount: featureCount,
		RTCCenter:    rtc,
		Instances:    instances,
		YUp:          true,
	}

	switch gltfFormat {
	case 0:
		uri := string(trimJSONPadding(body))
		glb, attached := opts.Attachments[AttachmentGLTF]
		if !attached {
			glog.V(2).Infof("i3dm references external glTF %s", uri)
			c.ExternalGLTF = uri
			return c, nil
		}
		body = glb
	case 1:
	default:
		return nil, newDecodeError(FormatI3DM, MalformedHeader, "unknown gltfFormat %d", gltfFormat)
	}

	if c.Meshes, err = parseGlb(FormatI3DM, body, opts); err != nil {
		return nil, err
	}
	return c, nil
}
