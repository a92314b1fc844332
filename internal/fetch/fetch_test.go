package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipped(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestHTTPFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tileset.json":
			assert.Equal(t, "secret", r.Header.Get("X-Token"))
			w.Write([]byte(`{"asset":{"version":"1.0"}}`))
		case "/nodes/0/geometries/0":
			w.Write(gzipped(t, []byte("geometry")))
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := NewHTTPFetcher(server.Client())
	f.Header.Set("X-Token", "secret")
	ctx := context.Background()

	data, err := f.Fetch(ctx, server.URL+"/tileset.json")
	require.NoError(t, err)
	assert.Equal(t, `{"asset":{"version":"1.0"}}`, string(data))

	data, err = f.Fetch(ctx, server.URL+"/nodes/0/geometries/0")
	require.NoError(t, err)
	assert.Equal(t, "geometry", string(data))

	_, err = f.Fetch(ctx, server.URL+"/missing.b3dm")
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusNotFound, fetchErr.Status)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(ctx, server.URL+"/broken")
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusInternalServerError, fetchErr.Status)
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pnts"), []byte("pnts"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0.json.gz"), gzipped(t, []byte(`{"nodes":[]}`)), 0644))

	f := NewFileFetcher()
	ctx := context.Background()

	data, err := f.Fetch(ctx, filepath.Join(dir, "a.pnts"))
	require.NoError(t, err)
	assert.Equal(t, "pnts", string(data))

	data, err = f.Fetch(ctx, "file://"+filepath.ToSlash(filepath.Join(dir, "a.pnts")))
	require.NoError(t, err)
	assert.Equal(t, "pnts", string(data))

	data, err = f.Fetch(ctx, filepath.Join(dir, "0"))
	require.NoError(t, err)
	assert.Equal(t, `{"nodes":[]}`, string(data))

	_, err = f.Fetch(ctx, filepath.Join(dir, "missing.b3dm"))
	assert.ErrorIs(t, err, ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.Fetch(cancelled, filepath.Join(dir, "a.pnts"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeDataURI(t *testing.T) {
	data, err := DecodeDataURI("data:application/octet-stream;base64,cG50cw==")
	require.NoError(t, err)
	assert.Equal(t, "pnts", string(data))

	data, err = DecodeDataURI("data:application/octet-stream;base64,cG50cw")
	require.NoError(t, err)
	assert.Equal(t, "pnts", string(data))

	data, err = DecodeDataURI("data:application/json,%7B%7D")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	_, err = DecodeDataURI("data:nocomma")
	assert.Error(t, err)
}

func TestRouterAppliesModifierBeforeEveryFetch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.b3dm"), []byte("b3dm"), 0644))

	var seen []string
	f := NewFetcher(func(u string) string {
		seen = append(seen, u)
		return filepath.Join(dir, u)
	})
	data, err := f.Fetch(context.Background(), "a.b3dm")
	require.NoError(t, err)
	assert.Equal(t, "b3dm", string(data))
	assert.Equal(t, []string{"a.b3dm"}, seen)

	prefixed := PrefixModifier("http://proxy/?")
	assert.Equal(t, "http://proxy/?http://host/t.json", prefixed("http://host/t.json"))
	assert.Equal(t, "data:,x", prefixed("data:,x"))
	assert.Nil(t, PrefixModifier(""))
}

func TestResolve(t *testing.T) {
	cases := []struct {
		base, ref, expected string
	}{
		{"http://host/data/tileset.json", "0/content.b3dm", "http://host/data/0/content.b3dm"},
		{"http://host/data/tileset.json", "../other/tileset.json", "http://host/other/tileset.json"},
		{"http://host/data/tileset.json?token=1", "a.pnts", "http://host/data/a.pnts?token=1"},
		{"http://host/data/tileset.json", "https://cdn/a.pnts", "https://cdn/a.pnts"},
		{"http://host/data/tileset.json", "data:,x", "data:,x"},
		{"/data/layers/0/3dSceneLayer.json", "./nodes/root", "/data/layers/0/nodes/root"},
		{"/data/tileset.json", "", "/data/tileset.json"},
	}
	for _, tc := range cases {
		assert.Equal(t, filepath.FromSlash(tc.expected), filepath.FromSlash(Resolve(tc.base, tc.ref)), tc.base+" + "+tc.ref)
	}
}
