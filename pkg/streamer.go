package pkg

import (
	"context"
	"errors"

	"github.com/ecopia-map/cesium_streamer/internal/cache"
	"github.com/ecopia-map/cesium_streamer/internal/codec"
	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/fetch"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/scheduler"
	"github.com/ecopia-map/cesium_streamer/internal/selection"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/ecopia-map/cesium_streamer/internal/tileset"
	"github.com/ecopia-map/cesium_streamer/pkg/algorithm_manager"
	"github.com/golang/glog"
)

// DrawCommand is one tile content handed to the renderer. The content stays valid until the next Submit.
type DrawCommand struct {
	TileID         string
	Content        *content.TileContent
	WorldTransform geometry.Matrix4
}

// Renderer is implemented by the host rendering backend
type Renderer interface {
	// Receives the complete draw list of every frame
	Submit(commands []DrawCommand)
	// Called from the worker goroutines when new content is available, the host should schedule a frame
	OnContentReady()
}

type FrameStats struct {
	Frame      uint64
	Visited    int
	Drawn      int
	Requested  int
	Completed  int
	Queued     int
	InFlight   int
	CacheBytes int64
	Evicted    int
}

type IStreamer interface {
	Tileset() *tileset.Tileset
	Frame(camera geometry.Camera) *FrameStats
	Close()
}

// Streamer drives one tileset. Frame and Close must be called from the same goroutine.
type Streamer struct {
	tileset   *tileset.Tileset
	selector  selection.Selector
	scheduler *scheduler.Scheduler
	cache     *cache.Cache
	renderer  Renderer
	manager   algorithm_manager.AlgorithmManager
	frame     uint64
	// cache keys referenced by the draw list of the previous frame
	held   []string
	closed bool
}

// Loads the tileset document and starts the decode workers. fetcher may be nil.
func NewStreamer(
	ctx context.Context,
	fetcher fetch.Fetcher,
	renderer Renderer,
	algorithmManager algorithm_manager.AlgorithmManager,
	streamerOpts *tiler.StreamerOptions,
	tilesetOpts *tiler.TilesetOptions,
) (IStreamer, error) {
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if err := streamerOpts.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		fetcher = fetch.NewFetcher(nil)
	}
	if tilesetOpts.URLPrefix != "" {
		fetcher = fetch.WithURLModifier(fetcher, fetch.PrefixModifier(tilesetOpts.URLPrefix))
	}

	codecs := codec.NewDefaultRegistry()
	loadOpts := tileset.NewLoadOptions(streamerOpts, tilesetOpts, algorithmManager.GetCoordinateConverterAlgorithm())
	loadOpts.Codecs = codecs
	ts, err := tileset.Load(ctx, fetcher, tilesetOpts.URL, loadOpts)
	if err != nil {
		return nil, err
	}

	contentCache := cache.NewCache(streamerOpts.CacheBudgetBytes)
	s := &Streamer{
		tileset:   ts,
		selector:  selection.NewLodSelector(streamerOpts.ScreenSpaceErrorFor(tilesetOpts), contentCache),
		scheduler: scheduler.NewScheduler(fetcher, contentCache, streamerOpts, codecs),
		cache:     contentCache,
		renderer:  renderer,
		manager:   algorithmManager,
	}
	s.scheduler.OnReady(renderer.OnContentReady)
	return s, nil
}

func (s *Streamer) Tileset() *tileset.Tileset {
	return s.tileset
}

// Runs one frame: applies the finished loads, selects the tiles for the camera, pins their contents in the cache,
// re-derives the request queue and submits the draw list
func (s *Streamer) Frame(camera geometry.Camera) *FrameStats {
	if s.closed {
		return &FrameStats{Frame: s.frame}
	}
	s.frame++
	stats := &FrameStats{Frame: s.frame}
	stats.Completed = s.scheduler.ProcessCompletions()

	s.cache.BeginFrame(s.frame)
	result := s.selector.Select(s.frame, camera, s.tileset)

	commands := make([]DrawCommand, 0, len(result.Draw))
	held := make([]string, 0, len(result.Draw))
	for _, tile := range result.Draw {
		key := tile.Content().Key()
		entry, ok := s.cache.Acquire(key)
		if !ok {
			// evicted by a worker insert since the selection, reloaded by a later frame
			glog.V(2).Infof("tile %s: content %s no longer cached", tile.ID, key)
			tile.CompareAndSwapState(tileset.Ready, tileset.Unloaded)
			continue
		}
		held = append(held, key)
		commands = append(commands, DrawCommand{
			TileID:         tile.ID,
			Content:        entry.Content,
			WorldTransform: tile.WorldTransform(),
		})
	}
	s.releaseHeld()
	s.held = held
	stats.Evicted = len(s.cache.Trim())

	s.scheduler.Update(result)
	s.renderer.Submit(commands)

	stats.Visited = result.Visited
	stats.Drawn = len(commands)
	stats.Requested = len(result.Requests)
	stats.Queued = s.scheduler.Queued()
	stats.InFlight = s.scheduler.InFlight()
	stats.CacheBytes = s.cache.TotalBytes()
	return stats
}

func (s *Streamer) releaseHeld() {
	for _, key := range s.held {
		s.cache.Release(key)
	}
	s.held = nil
}

// Cancels the pending requests and drops the cached contents
func (s *Streamer) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.scheduler.Close()
	s.releaseHeld()
	s.cache.Clear()
	s.manager.GetCoordinateConverterAlgorithm().Cleanup()
	glog.Infof("streamer for %s closed after %d frames", s.tileset.URL, s.frame)
}
