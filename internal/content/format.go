package content

import (
	"bytes"
	"net/url"
	"path"
	"strings"
)

type Format int

const (
	FormatUnknown Format = iota
	FormatB3DM
	FormatI3DM
	FormatPNTS
	FormatCMPT
	FormatGLB
	FormatI3S
	FormatS3M
	// Nested tileset document, never handed to Decode
	FormatTileset
)

var formatNames = map[Format]string{
	FormatUnknown: "unknown",
	FormatB3DM:    "b3dm",
	FormatI3DM:    "i3dm",
	FormatPNTS:    "pnts",
	FormatCMPT:    "cmpt",
	FormatGLB:     "glb",
	FormatI3S:     "i3s",
	FormatS3M:     "s3m",
	FormatTileset: "tileset",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

func ParseFormat(value string) Format {
	value = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "."))
	if value == "s3mb" {
		return FormatS3M
	}
	if value == "json" {
		return FormatTileset
	}
	for f, name := range formatNames {
		if name == value && f != FormatUnknown {
			return f
		}
	}
	return FormatUnknown
}

// Guesses the format from the extension of the url path
func FormatFromURL(rawURL string) Format {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "data" {
		p = u.Path
	}
	return ParseFormat(path.Ext(p))
}

// Detects the format from the 4 byte magic or from the first non blank byte for json documents
func SniffFormat(data []byte) Format {
	if len(data) >= 4 {
		switch string(data[:4]) {
		case "b3dm":
			return FormatB3DM
		case "i3dm":
			return FormatI3DM
		case "pnts":
			return FormatPNTS
		case "cmpt":
			return FormatCMPT
		case "glTF":
			return FormatGLB
		}
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n\uFEFF")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatTileset
	}
	return FormatUnknown
}

// Resolves the format of a payload: the magic wins over the hint
func ResolveFormat(data []byte, hint Format) Format {
	if sniffed := SniffFormat(data); sniffed != FormatUnknown {
		return sniffed
	}
	return hint
}
