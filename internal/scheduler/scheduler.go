// Package scheduler loads the tile contents and expansions wanted by the selection, closest first,
// with a bounded number of requests in flight.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"

	"github.com/ecopia-map/cesium_streamer/internal/cache"
	"github.com/ecopia-map/cesium_streamer/internal/codec"
	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/fetch"
	"github.com/ecopia-map/cesium_streamer/internal/metrics"
	"github.com/ecopia-map/cesium_streamer/internal/selection"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/ecopia-map/cesium_streamer/internal/tileset"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Completion is the outcome of a request, applied on the frame goroutine by ProcessCompletions
type Completion struct {
	ID   uuid.UUID
	Tile *tileset.Tile
	Kind selection.RequestKind
	// Set for content requests, the content is already cached
	Content *content.TileContent
	// Set for expansions, and for contents that turned out to be tileset documents
	Children []*tileset.Tile
	Err      error
}

// Scheduler owns the request queue. Update, ProcessCompletions and Close must be called from the frame goroutine.
type Scheduler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	fetcher fetch.Fetcher
	cache   *cache.Cache
	decode  content.DecodeOptions

	slots   *semaphore.Weighted
	fetches singleflight.Group
	jobs    chan *decodeJob
	runners sync.WaitGroup
	workers sync.WaitGroup

	// frame goroutine only
	queue    requestQueue
	queued   map[requestKey]*request
	inFlight map[requestKey]*request
	closed   bool

	mu          sync.Mutex
	completions []*Completion
	owners      map[string][]*tileset.Tile
	onReady     func()
}

func NewScheduler(fetcher fetch.Fetcher, contentCache *cache.Cache, opts *tiler.StreamerOptions, codecs *codec.Registry) *Scheduler {
	if codecs == nil {
		codecs = codec.NewDefaultRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		ctx:     ctx,
		cancel:  cancel,
		fetcher: fetcher,
		cache:   contentCache,
		decode: content.DecodeOptions{
			EnableCompressedGeometry:        opts.EnableCompressedGeometry,
			FillEmptyDataInMissingAttribute: opts.FillEmptyDataInMissingAttribute,
			Codecs:                          codecs,
		},
		slots:    semaphore.NewWeighted(int64(opts.MaxConcurrentRequests)),
		jobs:     make(chan *decodeJob),
		queued:   make(map[requestKey]*request),
		inFlight: make(map[requestKey]*request),
		owners:   make(map[string][]*tileset.Tile),
	}
	contentCache.OnEvict(s.evicted)

	numWorkers := opts.NumDecodeWorkers()
	s.workers.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go s.consume()
	}
	return s
}

// fn is called from the worker goroutines every time a request completes
func (s *Scheduler) OnReady(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReady = fn
}

// Re-derives the queue from the requests of the frame: wanted requests are queued or reprioritized,
// queued requests no longer wanted are cancelled. In-flight requests always run to completion.
func (s *Scheduler) Update(result *selection.FrameResult) {
	if s.closed {
		return
	}
	wanted := make(map[requestKey]bool, len(result.Requests))
	for _, want := range result.Requests {
		key := requestKey{tile: want.Tile, kind: want.Kind}
		wanted[key] = true
		if r, ok := s.queued[key]; ok {
			s.queue.update(r, want.Distance, want.Order)
			continue
		}
		if _, ok := s.inFlight[key]; ok {
			continue
		}
		s.enqueue(want)
	}

	for key, r := range s.queued {
		if !wanted[key] {
			s.queue.remove(r)
			s.drop(r)
		}
	}
	s.dispatch()
	metrics.RequestsQueued.Set(float64(len(s.queue)))
}

func (s *Scheduler) enqueue(want selection.Request) {
	r := &request{
		id:       uuid.New(),
		tile:     want.Tile,
		kind:     want.Kind,
		distance: want.Distance,
		order:    want.Order,
	}
	switch want.Kind {
	case selection.RequestContent:
		if !want.Tile.CompareAndSwapState(tileset.Unloaded, tileset.Loading) {
			return
		}
		r.source = want.Tile.Content()
	case selection.RequestExpand:
		r.expand = want.Tile.Expansion()
		if r.expand == nil || !want.Tile.CompareAndSwapExpandState(tileset.Unloaded, tileset.Loading) {
			return
		}
	}
	heap.Push(&s.queue, r)
	s.queued[r.key()] = r
}

// Cancels a queued request, the tile goes back to UNLOADED
func (s *Scheduler) drop(r *request) {
	delete(s.queued, r.key())
	if r.kind == selection.RequestExpand {
		r.tile.CompareAndSwapExpandState(tileset.Loading, tileset.Unloaded)
	} else {
		r.tile.CompareAndSwapState(tileset.Loading, tileset.Unloaded)
	}
	metrics.RequestsTotal.WithLabelValues("cancelled").Inc()
	glog.V(2).Infof("request %s for tile %s cancelled", r.id, r.tile.ID)
}

// Starts the closest requests while slots are available
func (s *Scheduler) dispatch() {
	for len(s.queue) > 0 && s.slots.TryAcquire(1) {
		r := heap.Pop(&s.queue).(*request)
		delete(s.queued, r.key())
		r.ctx, r.cancel = context.WithCancel(s.ctx)
		s.inFlight[r.key()] = r
		metrics.RequestsInFlight.Inc()

		s.runners.Add(1)
		go s.run(r)
	}
}

func (s *Scheduler) run(r *request) {
	defer s.runners.Done()
	glog.V(2).Infof("request %s: %s of tile %s", r.id, r.kind, r.tile.ID)

	if r.kind == selection.RequestExpand {
		children, err := r.expand(r.ctx)
		s.finish(r, &Completion{Children: children, Err: err})
		return
	}

	data, err := s.fetch(r.ctx, r.source.URL)
	if err != nil {
		s.finish(r, &Completion{Err: err})
		return
	}
	// contents without a known extension may be tileset documents
	if content.ResolveFormat(data, r.source.Format) == content.FormatTileset {
		children, err := r.tile.ParseExternalTileset(r.source.URL, data)
		s.finish(r, &Completion{Children: children, Err: err})
		return
	}
	attachments, err := s.fetchAttachments(r.ctx, r.source)
	if err != nil {
		s.finish(r, &Completion{Err: err})
		return
	}

	select {
	case s.jobs <- &decodeJob{request: r, data: data, attachments: attachments}:
	case <-r.ctx.Done():
		s.finish(r, &Completion{Err: r.ctx.Err()})
	}
}

// Concurrent fetches of the same url share one transfer
func (s *Scheduler) fetch(ctx context.Context, url string) ([]byte, error) {
	v, err, shared := s.fetches.Do(url, func() (interface{}, error) {
		return s.fetcher.Fetch(ctx, url)
	})
	if shared {
		glog.V(2).Infof("fetch of %s shared", url)
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *Scheduler) fetchAttachments(ctx context.Context, source *tileset.ContentSource) (map[string][]byte, error) {
	if len(source.Attachments) == 0 {
		return nil, nil
	}
	attachments := make(map[string][]byte, len(source.Attachments))
	for role, url := range source.Attachments {
		data, err := s.fetch(ctx, url)
		if errors.Is(err, fetch.ErrNotFound) {
			// nodes may omit some attribute buffers
			glog.V(2).Infof("attachment %s of %s not found", role, source.URL)
			continue
		}
		if err != nil {
			return nil, err
		}
		attachments[role] = data
	}
	return attachments, nil
}

// Queues the completion and frees the request slot
func (s *Scheduler) finish(r *request, c *Completion) {
	c.ID = r.id
	c.Tile = r.tile
	c.Kind = r.kind
	r.cancel()
	s.slots.Release(1)
	metrics.RequestsInFlight.Dec()

	s.mu.Lock()
	s.completions = append(s.completions, c)
	onReady := s.onReady
	s.mu.Unlock()
	if onReady != nil {
		onReady()
	}
}

// Applies the completed requests to the tree: READY, FAILED or children attachment.
// Returns the number of completions applied.
func (s *Scheduler) ProcessCompletions() int {
	s.mu.Lock()
	done := s.completions
	s.completions = nil
	s.mu.Unlock()

	for _, c := range done {
		delete(s.inFlight, requestKey{tile: c.Tile, kind: c.Kind})
		switch {
		case c.Err != nil:
			s.failed(c)
		case c.Kind == selection.RequestExpand:
			c.Tile.AttachChildren(c.Children)
			metrics.RequestsTotal.WithLabelValues("ready").Inc()
		case c.Children != nil:
			c.Tile.ReplaceContentWithChildren(c.Children)
			metrics.RequestsTotal.WithLabelValues("ready").Inc()
		default:
			s.ready(c)
		}
	}
	if !s.closed {
		s.dispatch()
	}
	return len(done)
}

func (s *Scheduler) failed(c *Completion) {
	if errors.Is(c.Err, context.Canceled) {
		if c.Kind == selection.RequestExpand {
			c.Tile.CompareAndSwapExpandState(tileset.Loading, tileset.Unloaded)
		} else {
			c.Tile.CompareAndSwapState(tileset.Loading, tileset.Unloaded)
		}
		metrics.RequestsTotal.WithLabelValues("cancelled").Inc()
		return
	}
	glog.Errorf("tile %s: %s request %s failed: %v", c.Tile.ID, c.Kind, c.ID, c.Err)
	if c.Kind == selection.RequestExpand {
		c.Tile.SetExpandFailed(c.Err)
	} else {
		c.Tile.SetFailed(c.Err)
	}
	metrics.RequestsTotal.WithLabelValues("failed").Inc()
}

func (s *Scheduler) ready(c *Completion) {
	key := c.Tile.Content().Key()

	// the content may have been evicted since it was inserted by the worker. The state moves to
	// READY under the owners lock so that a concurrent eviction always observes it.
	s.mu.Lock()
	cached := s.cache.Contains(key)
	if cached {
		s.owners[key] = append(s.owners[key], c.Tile)
		c.Tile.CompareAndSwapState(tileset.Loading, tileset.Ready)
	} else {
		c.Tile.CompareAndSwapState(tileset.Loading, tileset.Unloaded)
	}
	s.mu.Unlock()

	if !cached {
		glog.V(2).Infof("tile %s: content evicted before use", c.Tile.ID)
		return
	}
	c.Tile.AttachContentChildren(c.Content)
	metrics.RequestsTotal.WithLabelValues("ready").Inc()
}

// Cache eviction callback, the tiles sharing the evicted content are unloaded
func (s *Scheduler) evicted(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.owners[key] {
		t.CompareAndSwapState(tileset.Ready, tileset.Unloaded)
	}
	delete(s.owners, key)
}

func (s *Scheduler) Queued() int {
	return len(s.queue)
}

func (s *Scheduler) InFlight() int {
	return len(s.inFlight)
}

// Cancels the queued and in-flight requests and stops the decode workers. Completions still
// pending are dropped.
func (s *Scheduler) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for len(s.queue) > 0 {
		s.drop(heap.Pop(&s.queue).(*request))
	}
	s.cancel()
	s.runners.Wait()
	close(s.jobs)
	s.workers.Wait()
	s.ProcessCompletions()
	metrics.RequestsQueued.Set(0)
}
