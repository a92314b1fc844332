package fetch

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
)

// Extensions tried when a path does not exist, in this order.
// Extracted scene layer packages store "nodes/0/geometries/0" as "nodes/0/geometries/0.bin.gz".
var fileFallbackExtensions = []string{".json", ".json.gz", ".bin", ".bin.gz", ".gz"}

type FileFetcher struct{}

func NewFileFetcher() *FileFetcher {
	return &FileFetcher{}
}

// Reads local paths and file urls
func (f *FileFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	p := rawURL
	if strings.HasPrefix(rawURL, "file://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
		p = u.Path
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		for _, ext := range fileFallbackExtensions {
			if data, err = os.ReadFile(p + ext); err == nil {
				break
			}
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &FetchError{URL: rawURL, Err: ErrNotFound}
		}
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if data, err = maybeGunzip(data); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	return data, nil
}
