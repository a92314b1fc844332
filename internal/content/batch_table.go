package content

import (
	"sort"

	json "github.com/goccy/go-json"
)

// BatchProperty is either an inline JSON array or a typed view of the batch table binary body
type BatchProperty struct {
	Name   string
	Inline []interface{}
	Binary *TypedArray
}

// Number of scalar values of the property. VECn binary properties count n values per feature.
func (p *BatchProperty) Len() int {
	if p.Binary != nil {
		return p.Binary.Len()
	}
	return len(p.Inline)
}

// Returns the value of the given feature: a float64 or []float64 for binary properties, the raw JSON value otherwise
func (p *BatchProperty) Value(feature int) interface{} {
	if p.Binary != nil {
		if feature < 0 || feature >= p.Binary.Count {
			return nil
		}
		if p.Binary.Components == 1 {
			return p.Binary.Float64(feature)
		}
		out := make([]float64, p.Binary.Components)
		for c := range out {
			out[c] = p.Binary.At(feature, c)
		}
		return out
	}
	if feature < 0 || feature >= len(p.Inline) {
		return nil
	}
	return p.Inline[feature]
}

// BatchTable maps property names to per feature values
type BatchTable struct {
	Properties   map[string]*BatchProperty
	Binary       []byte
	Extensions   map[string]json.RawMessage
	FeatureCount int
}

type batchBinaryDescriptor struct {
	ByteOffset    *int   `json:"byteOffset"`
	ComponentType string `json:"componentType"`
	Type          string `json:"type"`
}

// Parses a batch table JSON header and binary body. featureCount is the number of
// features the binary properties are sized with.
func ParseBatchTable(format Format, jsonBytes, binary []byte, featureCount int) (*BatchTable, error) {
	bt := &BatchTable{
		Properties:   make(map[string]*BatchProperty),
		Binary:       binary,
		Extensions:   make(map[string]json.RawMessage),
		FeatureCount: featureCount,
	}
	raw := map[string]json.RawMessage{}
	if err := unmarshalJSONHeader(jsonBytes, &raw); err != nil {
		return nil, wrapDecodeError(format, CorruptBuffer, err, "invalid batch table json")
	}

	for name, value := range raw {
		switch name {
		case "extensions":
			if err := json.Unmarshal(value, &bt.Extensions); err != nil {
				return nil, wrapDecodeError(format, CorruptBuffer, err, "invalid batch table extensions")
			}
			continue
		case "extras":
			continue
		}

		property := &BatchProperty{Name: name}
		var descriptor batchBinaryDescriptor
		if len(value) > 0 && value[0] == '{' {
			if err := json.Unmarshal(value, &descriptor); err != nil || descriptor.ByteOffset == nil {
				return nil, newDecodeError(format, CorruptBuffer, "batch table property %s is neither an array nor a binary reference", name)
			}
			componentType, ok := ParseComponentType(descriptor.ComponentType)
			if !ok {
				return nil, newDecodeError(format, CorruptBuffer, "batch table property %s has unknown componentType %q", name, descriptor.ComponentType)
			}
			components, ok := ComponentsOf(descriptor.Type)
			if !ok {
				return nil, newDecodeError(format, CorruptBuffer, "batch table property %s has unknown type %q", name, descriptor.Type)
			}
			arr, err := ReadTypedArray(binary, *descriptor.ByteOffset, 0, componentType, components, featureCount)
			if err != nil {
				return nil, wrapDecodeError(format, CorruptBuffer, err, "batch table property %s", name)
			}
			property.Binary = arr
		} else if err := json.Unmarshal(value, &property.Inline); err != nil {
			return nil, wrapDecodeError(format, CorruptBuffer, err, "batch table property %s is not an array", name)
		}
		bt.Properties[name] = property
	}
	return bt, nil
}

func NewBatchTable(featureCount int) *BatchTable {
	return &BatchTable{
		Properties:   make(map[string]*BatchProperty),
		Extensions:   make(map[string]json.RawMessage),
		FeatureCount: featureCount,
	}
}

func (b *BatchTable) Property(name string) *BatchProperty {
	if b == nil {
		return nil
	}
	return b.Properties[name]
}

func (b *BatchTable) Names() []string {
	names := make([]string, 0, len(b.Properties))
	for name := range b.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *BatchTable) ByteSize() int64 {
	size := int64(len(b.Binary))
	for _, p := range b.Properties {
		if p.Binary != nil {
			size += int64(p.Binary.ByteLength())
		} else {
			// rough estimate of boxed JSON values
			size += int64(len(p.Inline) * 16)
		}
	}
	return size
}
