package io

import (
	"github.com/ecopia-map/cesium_streamer/tools"
)

// Header sizes of the batched formats
const (
	pntsHeaderSize = 28
	b3dmHeaderSize = 28
	i3dmHeaderSize = 32
	cmptHeaderSize = 16
)

// Builds a batched tile: magic, version, byteLength, the four table lengths, extra header words,
// the tables and the body
func writeBatchedTile(magic string, headerSize int, extra []uint32, ft, bt *TableBuilder, body []byte) ([]byte, error) {
	if ft == nil {
		ft = NewTableBuilder()
	}
	ftJSON, ftBin, err := ft.Bytes(headerSize)
	if err != nil {
		return nil, err
	}
	btJSON, btBin, err := bt.Bytes(headerSize + len(ftJSON) + len(ftBin))
	if err != nil {
		return nil, err
	}
	byteLength := headerSize + len(ftJSON) + len(ftBin) + len(btJSON) + len(btBin) + len(body)

	outputByte := make([]byte, 0, byteLength)
	outputByte = append(outputByte, []byte(magic)...)                           // magic
	outputByte = append(outputByte, tools.ConvertIntToByteArray(1)...)          // version number
	outputByte = append(outputByte, tools.ConvertIntToByteArray(byteLength)...) // byte length
	outputByte = append(outputByte, tools.ConvertIntToByteArray(len(ftJSON))...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(len(ftBin))...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(len(btJSON))...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(len(btBin))...)
	for _, v := range extra {
		outputByte = append(outputByte, tools.ConvertIntToByteArray(int(v))...)
	}
	outputByte = append(outputByte, ftJSON...)
	outputByte = append(outputByte, ftBin...)
	outputByte = append(outputByte, btJSON...)
	outputByte = append(outputByte, btBin...)
	outputByte = append(outputByte, body...)
	return outputByte, nil
}

// Writes a point cloud tile
func WritePnts(ft, bt *TableBuilder) ([]byte, error) {
	return writeBatchedTile("pnts", pntsHeaderSize, nil, ft, bt, nil)
}

// Writes a batched model tile around a binary glTF
func WriteB3dm(ft, bt *TableBuilder, glb []byte) ([]byte, error) {
	return writeBatchedTile("b3dm", b3dmHeaderSize, nil, ft, bt, glb)
}

// Writes an instanced model tile. gltfFormat 1 embeds the glTF in body, 0 stores its uri.
func WriteI3dm(ft, bt *TableBuilder, gltfFormat uint32, body []byte) ([]byte, error) {
	if ft == nil {
		ft = NewTableBuilder()
	}
	if !ft.Unaligned {
		body = append(append([]byte(nil), body...), make([]byte, tools.PaddingSize(len(body), tableAlignment))...)
	}
	return writeBatchedTile("i3dm", i3dmHeaderSize, []uint32{gltfFormat}, ft, bt, body)
}

// Writes a b3dm with the deprecated header [batchLength][batchTableByteLength]
func WriteLegacyB3dm(batchLength int, batchTableJSON []byte, glb []byte) []byte {
	byteLength := b3dmHeaderSize - 8 + len(batchTableJSON) + len(glb)
	outputByte := make([]byte, 0, byteLength)
	outputByte = append(outputByte, []byte("b3dm")...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(1)...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(byteLength)...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(batchLength)...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(len(batchTableJSON))...)
	outputByte = append(outputByte, batchTableJSON...)
	outputByte = append(outputByte, glb...)
	return outputByte
}

// Writes a composite of the given inner tiles
func WriteCmpt(tiles ...[]byte) []byte {
	byteLength := cmptHeaderSize
	for _, t := range tiles {
		byteLength += len(t)
	}
	outputByte := make([]byte, 0, byteLength)
	outputByte = append(outputByte, []byte("cmpt")...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(1)...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(byteLength)...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(len(tiles))...)
	for _, t := range tiles {
		outputByte = append(outputByte, t...)
	}
	return outputByte
}
