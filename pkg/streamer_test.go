package pkg

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/ecopia-map/cesium_streamer/pkg/algorithm_manager/std_algorithm_manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStreamer(t *testing.T, tilesetPath string, renderer Renderer) IStreamer {
	t.Helper()
	tilesetOpts := &tiler.TilesetOptions{URL: tilesetPath}
	streamerOpts := tiler.NewStreamerOptions()
	streamerOpts.DecodeWorkers = 2
	am := std_algorithm_manager.NewAlgorithmManager(&tiler.CommandOptions{Tileset: tilesetOpts})
	s, err := NewStreamer(context.Background(), nil, renderer, am, streamerOpts, tilesetOpts)
	require.NoError(t, err)
	return s
}

// Runs frames until nothing is requested, queued or in flight
func runUntilSettled(t *testing.T, s IStreamer, camera geometry.Camera) *FrameStats {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		stats := s.Frame(camera)
		if stats.Requested == 0 && stats.Queued == 0 && stats.InFlight == 0 {
			return stats
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.FailNow(t, "streamer did not settle")
	return nil
}

func cameraOver(s IStreamer, distance float64) geometry.Camera {
	volume := s.Tileset().Root.BoundingVolume()
	opts := tiler.NewSimulationOptions()
	opts.Width, opts.Height = 800, 600
	return OverheadCamera(volume.Center(), distance, opts)
}

func drawnIDs(commands []DrawCommand) []string {
	ids := make([]string, 0, len(commands))
	for _, c := range commands {
		ids = append(ids, c.TileID)
	}
	return ids
}

func TestStreamerDrawsRootFromFar(t *testing.T) {
	renderer := NewHeadlessRenderer()
	s := newTestStreamer(t, generateTileset(t, tiler.RefineModeAdd, false), renderer)
	defer s.Close()

	stats := runUntilSettled(t, s, cameraOver(s, 1e5))
	assert.Equal(t, 1, stats.Drawn)
	assert.Greater(t, stats.CacheBytes, int64(0))
	require.Len(t, renderer.LastDrawList(), 1)
	assert.Equal(t, s.Tileset().Root.ID, renderer.LastDrawList()[0].TileID)
	assert.NotNil(t, renderer.LastDrawList()[0].Content)
	assert.GreaterOrEqual(t, renderer.ContentReadyCount(), int64(1))
	assert.Equal(t, int(stats.Frame), renderer.Submitted())
}

func TestStreamerRefinesWhenApproaching(t *testing.T) {
	renderer := NewHeadlessRenderer()
	s := newTestStreamer(t, generateTileset(t, tiler.RefineModeAdd, false), renderer)
	defer s.Close()

	far := runUntilSettled(t, s, cameraOver(s, 1e5))
	near := runUntilSettled(t, s, cameraOver(s, 15))
	assert.Greater(t, near.Drawn, far.Drawn)
	assert.Greater(t, near.Visited, far.Visited)
	// additive refinement keeps the root drawn
	assert.Contains(t, drawnIDs(renderer.LastDrawList()), s.Tileset().Root.ID)
	for _, c := range renderer.LastDrawList() {
		assert.NotNil(t, c.Content, c.TileID)
	}
}

func TestStreamerReplaceHidesRefinedParent(t *testing.T) {
	renderer := NewHeadlessRenderer()
	s := newTestStreamer(t, generateTileset(t, tiler.RefineModeReplace, false), renderer)
	defer s.Close()

	stats := runUntilSettled(t, s, cameraOver(s, 15))
	assert.Greater(t, stats.Drawn, 0)
	assert.NotContains(t, drawnIDs(renderer.LastDrawList()), s.Tileset().Root.ID)
}

func TestStreamerEvictsBeyondBudget(t *testing.T) {
	tilesetPath := generateTileset(t, tiler.RefineModeAdd, false)
	tilesetOpts := &tiler.TilesetOptions{URL: tilesetPath}
	streamerOpts := tiler.NewStreamerOptions()
	streamerOpts.CacheBudgetBytes = 1
	am := std_algorithm_manager.NewAlgorithmManager(&tiler.CommandOptions{Tileset: tilesetOpts})
	renderer := NewHeadlessRenderer()
	s, err := NewStreamer(context.Background(), nil, renderer, am, streamerOpts, tilesetOpts)
	require.NoError(t, err)
	defer s.Close()

	far := runUntilSettled(t, s, cameraOver(s, 1e5))
	require.Equal(t, 1, far.Drawn)
	rootBytes := s.Frame(cameraOver(s, 1e5)).CacheBytes

	for i := 0; i < 20; i++ {
		s.Frame(cameraOver(s, 15))
		time.Sleep(time.Millisecond)
	}

	// the drawn contents stay pinned, every other content is evicted once the camera moves away
	runUntilSettled(t, s, cameraOver(s, 1e5))
	stats := s.Frame(cameraOver(s, 1e5))
	assert.Equal(t, 1, stats.Drawn)
	assert.Equal(t, rootBytes, stats.CacheBytes)
}

func TestStreamerCloseStopsFrames(t *testing.T) {
	renderer := NewHeadlessRenderer()
	s := newTestStreamer(t, generateTileset(t, tiler.RefineModeAdd, false), renderer)

	camera := cameraOver(s, 1e5)
	first := s.Frame(camera)
	s.Close()
	s.Close()
	after := s.Frame(camera)
	assert.Equal(t, first.Frame, after.Frame)
	assert.Equal(t, 0, after.Drawn)
	assert.Equal(t, 1, renderer.Submitted())
}

func TestNewStreamerErrors(t *testing.T) {
	tilesetOpts := &tiler.TilesetOptions{URL: filepath.Join(t.TempDir(), "missing.json")}
	am := std_algorithm_manager.NewAlgorithmManager(&tiler.CommandOptions{Tileset: tilesetOpts})

	_, err := NewStreamer(context.Background(), nil, NewHeadlessRenderer(), am, tiler.NewStreamerOptions(), tilesetOpts)
	assert.Error(t, err)

	_, err = NewStreamer(context.Background(), nil, nil, am, tiler.NewStreamerOptions(), tilesetOpts)
	assert.Error(t, err)

	invalid := tiler.NewStreamerOptions()
	invalid.MaxConcurrentRequests = 0
	_, err = NewStreamer(context.Background(), nil, NewHeadlessRenderer(), am, invalid, tilesetOpts)
	assert.Error(t, err)
}
