package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
)

var errInvalidDataURI = errors.New("invalid data uri")

// Decodes data:[<mediatype>][;base64],<data> uris
type DataURIFetcher struct{}

func NewDataURIFetcher() *DataURIFetcher {
	return &DataURIFetcher{}
}

func (f *DataURIFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := DecodeDataURI(rawURL)
	if err != nil {
		return nil, &FetchError{URL: truncate(rawURL), Err: err}
	}
	return data, nil
}

func DecodeDataURI(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, errInvalidDataURI
	}
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, errInvalidDataURI
	}
	header, payload := uri[len("data:"):comma], uri[comma+1:]
	if strings.HasSuffix(header, ";base64") {
		// some writers drop the padding
		if data, err := base64.StdEncoding.DecodeString(payload); err == nil {
			return data, nil
		}
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return nil, err
	}
	return []byte(unescaped), nil
}

// data uris can be megabytes long
func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
