package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/golang/glog"
)

const defaultHTTPTimeout = 60 * time.Second

type HTTPFetcher struct {
	client *http.Client
	// Sent with every request
	Header http.Header
}

// client may be nil, a client with a 60s timeout is used then
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPFetcher{client: client, Header: make(http.Header)}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	for key, values := range f.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	glog.V(2).Infof("GET %s", url)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &FetchError{URL: url, Status: resp.StatusCode, Err: ErrNotFound}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: url, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	// the transport inflates the body only when it asked for gzip itself
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Status: resp.StatusCode, Err: err}
	}
	if body, err = maybeGunzip(body); err != nil {
		return nil, &FetchError{URL: url, Status: resp.StatusCode, Err: err}
	}
	return body, nil
}
