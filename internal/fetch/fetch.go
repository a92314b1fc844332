// Package fetch loads tileset documents and tile payloads from http servers, local folders and data uris.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/ecopia-map/cesium_streamer/internal/metrics"
	"github.com/klauspost/compress/gzip"
)

var ErrNotFound = errors.New("resource not found")

// Fetcher returns the bytes of the resource at url
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// URLModifier rewrites every url before it is fetched, used for proxying or signing
type URLModifier func(url string) string

// FetchError is returned for every transport failure. Status is the http status, 0 for other transports.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Dispatches the request to the fetcher of the url scheme, after the modifier is applied
type router struct {
	modifier URLModifier
	http     Fetcher
	file     Fetcher
	data     Fetcher
}

// Returns a fetcher serving http(s), file and data urls. modifier may be nil.
func NewFetcher(modifier URLModifier) Fetcher {
	return &router{
		modifier: modifier,
		http:     NewHTTPFetcher(nil),
		file:     NewFileFetcher(),
		data:     NewDataURIFetcher(),
	}
}

// Wraps fetcher so that modifier is consulted before every fetch
func WithURLModifier(fetcher Fetcher, modifier URLModifier) Fetcher {
	if modifier == nil {
		return fetcher
	}
	return &router{modifier: modifier, http: fetcher, file: fetcher, data: fetcher}
}

func (r *router) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if r.modifier != nil {
		rawURL = r.modifier(rawURL)
	}
	var (
		data []byte
		err  error
	)
	switch scheme(rawURL) {
	case "data":
		data, err = r.data.Fetch(ctx, rawURL)
	case "http", "https":
		data, err = r.http.Fetch(ctx, rawURL)
	default:
		data, err = r.file.Fetch(ctx, rawURL)
	}
	if err != nil {
		return nil, err
	}
	metrics.FetchedBytes.Add(float64(len(data)))
	return data, nil
}

// Returns a modifier prepending prefix to every url, nil for an empty prefix
func PrefixModifier(prefix string) URLModifier {
	if prefix == "" {
		return nil
	}
	return func(u string) string {
		if strings.HasPrefix(u, "data:") || strings.HasPrefix(u, prefix) {
			return u
		}
		return prefix + u
	}
}

func scheme(rawURL string) string {
	if strings.HasPrefix(rawURL, "data:") {
		return "data"
	}
	u, err := url.Parse(rawURL)
	if err != nil || len(u.Scheme) <= 1 {
		// windows drive letters are not schemes
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Resolves ref against the url or path of the document that references it
func Resolve(base, ref string) string {
	if ref == "" {
		return base
	}
	if strings.HasPrefix(ref, "data:") || scheme(ref) != "" {
		return ref
	}
	switch scheme(base) {
	case "":
		if filepath.IsAbs(ref) {
			return ref
		}
		return filepath.Join(filepath.Dir(base), filepath.FromSlash(ref))
	case "data":
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return path.Join(path.Dir(base), ref)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return path.Join(path.Dir(base), ref)
	}
	resolved := baseURL.ResolveReference(refURL)
	// the query of the document carries the access tokens of the service
	if resolved.RawQuery == "" && baseURL.RawQuery != "" {
		resolved.RawQuery = baseURL.RawQuery
	}
	return resolved.String()
}

// Inflates gzip payloads, I3S services and packages store most resources gzipped
func maybeGunzip(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
