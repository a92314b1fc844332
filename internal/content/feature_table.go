package content

import (
	"bytes"
	"fmt"
	"math"

	json "github.com/goccy/go-json"
)

// Strips the space and NUL padding writers append to JSON headers
func trimJSONPadding(data []byte) []byte {
	return bytes.TrimRight(data, " \x00\t\r\n")
}

func unmarshalJSONHeader(data []byte, v interface{}) error {
	data = trimJSONPadding(data)
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Binary reference of a feature table property
type binaryReference struct {
	ByteOffset    *int    `json:"byteOffset"`
	ComponentType *string `json:"componentType"`
}

// FeatureTable is the JSON header and binary body shared by b3dm, i3dm and pnts
type FeatureTable struct {
	format Format
	JSON   map[string]json.RawMessage
	Binary []byte
}

func parseFeatureTable(format Format, jsonBytes, binary []byte) (*FeatureTable, error) {
	t := &FeatureTable{format: format, JSON: map[string]json.RawMessage{}, Binary: binary}
	if err := unmarshalJSONHeader(jsonBytes, &t.JSON); err != nil {
		return nil, wrapDecodeError(format, CorruptBuffer, err, "invalid feature table json")
	}
	return t, nil
}

func (t *FeatureTable) Has(name string) bool {
	_, ok := t.JSON[name]
	return ok
}

// Returns an integer global such as POINTS_LENGTH or BATCH_LENGTH
func (t *FeatureTable) GlobalInt(name string) (int, bool, error) {
	raw, ok := t.JSON[name]
	if !ok {
		return 0, false, nil
	}
	var ref binaryReference
	if json.Unmarshal(raw, &ref) == nil && ref.ByteOffset != nil {
		arr, err := t.readBinary(name, ref, UnsignedInt, 1, 1)
		if err != nil {
			return 0, true, err
		}
		return int(arr.Float64(0)), true, nil
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, true, wrapDecodeError(t.format, CorruptBuffer, err, "feature table %s is not a number", name)
	}
	if value < 0 || value != math.Trunc(value) {
		return 0, true, newDecodeError(t.format, CorruptBuffer, "feature table %s must be a non negative integer, got %v", name, value)
	}
	return int(value), true, nil
}

// Returns a numeric global of the given number of components such as RTC_CENTER
func (t *FeatureTable) GlobalFloats(name string, components int) ([]float64, bool, error) {
	raw, ok := t.JSON[name]
	if !ok {
		return nil, false, nil
	}
	var ref binaryReference
	if json.Unmarshal(raw, &ref) == nil && ref.ByteOffset != nil {
		arr, err := t.readBinary(name, ref, Float, components, 1)
		if err != nil {
			return nil, true, err
		}
		return arr.Float64s(), true, nil
	}
	var values []float64
	if components == 1 {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, true, wrapDecodeError(t.format, CorruptBuffer, err, "feature table %s is not a number", name)
		}
		values = []float64{v}
	} else if err := json.Unmarshal(raw, &values); err != nil {
		return nil, true, wrapDecodeError(t.format, CorruptBuffer, err, "feature table %s is not a number array", name)
	}
	if len(values) != components {
		return nil, true, newDecodeError(t.format, CorruptBuffer, "feature table %s must have %d values, got %d", name, components, len(values))
	}
	return values, true, nil
}

func (t *FeatureTable) Bool(name string) bool {
	raw, ok := t.JSON[name]
	if !ok {
		return false
	}
	var v bool
	return json.Unmarshal(raw, &v) == nil && v
}

// Returns a per feature property stored in the binary body
func (t *FeatureTable) Property(name string, count, components int, defaultType ComponentType) (*TypedArray, bool, error) {
	raw, ok := t.JSON[name]
	if !ok {
		return nil, false, nil
	}
	var ref binaryReference
	if err := json.Unmarshal(raw, &ref); err != nil || ref.ByteOffset == nil {
		return nil, true, newDecodeError(t.format, CorruptBuffer, "feature table %s must reference the binary body", name)
	}
	arr, err := t.readBinary(name, ref, defaultType, components, count)
	return arr, true, err
}

func (t *FeatureTable) readBinary(name string, ref binaryReference, componentType ComponentType, components, count int) (*TypedArray, error) {
	if ref.ComponentType != nil {
		ct, ok := ParseComponentType(*ref.ComponentType)
		if !ok {
			return nil, newDecodeError(t.format, CorruptBuffer, "feature table %s has unknown component type %q", name, *ref.ComponentType)
		}
		componentType = ct
	}
	arr, err := ReadTypedArray(t.Binary, *ref.ByteOffset, 0, componentType, components, count)
	if err != nil {
		return nil, wrapDecodeError(t.format, CorruptBuffer, err, "feature table %s", name)
	}
	return arr, nil
}

func (t *FeatureTable) Extension(name string) (json.RawMessage, bool) {
	raw, ok := t.JSON["extensions"]
	if !ok {
		return nil, false
	}
	var extensions map[string]json.RawMessage
	if json.Unmarshal(raw, &extensions) != nil {
		return nil, false
	}
	ext, ok := extensions[name]
	return ext, ok
}

func (t *FeatureTable) String() string {
	return fmt.Sprintf("FeatureTable{%d keys, %d binary bytes}", len(t.JSON), len(t.Binary))
}
