package io

import (
	"bytes"

	"github.com/ecopia-map/cesium_streamer/tools"
	json "github.com/goccy/go-json"
)

// Alignment of the JSON headers and binary bodies of feature and batch tables
const tableAlignment = 8

// TableBuilder assembles the JSON header and binary body of a feature table or a batch table
type TableBuilder struct {
	header map[string]interface{}
	binary []byte
	// Unaligned disables the padding of headers and binary properties
	Unaligned bool
}

type binaryProperty struct {
	ByteOffset    int    `json:"byteOffset"`
	ComponentType string `json:"componentType,omitempty"`
	Type          string `json:"type,omitempty"`
}

func NewTableBuilder() *TableBuilder {
	return &TableBuilder{header: make(map[string]interface{})}
}

// Sets a JSON value such as POINTS_LENGTH, RTC_CENTER or an inline batch table array
func (b *TableBuilder) Set(name string, value interface{}) *TableBuilder {
	b.header[name] = value
	return b
}

// Appends data to the binary body and references it from the header.
// componentType and elementType may be empty for feature table properties with a default type.
func (b *TableBuilder) AddBinary(name string, data []byte, componentType, elementType string, componentSize int) *TableBuilder {
	if !b.Unaligned && componentSize > 0 {
		b.binary = append(b.binary, make([]byte, tools.PaddingSize(len(b.binary), componentSize))...)
	}
	b.header[name] = binaryProperty{ByteOffset: len(b.binary), ComponentType: componentType, Type: elementType}
	b.binary = append(b.binary, data...)
	return b
}

// Appends raw bytes to the binary body without referencing them, returns their offset
func (b *TableBuilder) AppendRaw(data []byte) int {
	if !b.Unaligned {
		b.binary = append(b.binary, make([]byte, tools.PaddingSize(len(b.binary), tableAlignment))...)
	}
	offset := len(b.binary)
	b.binary = append(b.binary, data...)
	return offset
}

func (b *TableBuilder) Empty() bool {
	return b == nil || (len(b.header) == 0 && len(b.binary) == 0)
}

// Returns the JSON header, padded with spaces so that the header ends on an 8 byte boundary
// given that it starts at offset, and the binary body padded with zeros
func (b *TableBuilder) Bytes(offset int) ([]byte, []byte, error) {
	if b.Empty() {
		return nil, nil, nil
	}
	header, err := json.Marshal(b.header)
	if err != nil {
		return nil, nil, err
	}
	binary := b.binary
	if !b.Unaligned {
		header = append(header, bytes.Repeat([]byte{' '}, tools.PaddingSize(offset+len(header), tableAlignment))...)
		binary = append(append([]byte(nil), binary...), make([]byte, tools.PaddingSize(len(binary), tableAlignment))...)
	}
	return header, binary, nil
}
