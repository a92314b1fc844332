package selection

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/ecopia-map/cesium_streamer/internal/fetch"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/tileset"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type docFetcher map[string]string

func (f docFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	doc, ok := f[url]
	if !ok {
		return nil, &fetch.FetchError{URL: url, Err: fetch.ErrNotFound}
	}
	return []byte(doc), nil
}

// Root sphere of radius 10 at the origin refined into two spheres of radius 5
const twoChildren = `{
  "asset": {"version": "1.0"},
  "geometricError": 200,
  "root": {
    "boundingVolume": {"sphere": [0, 0, 0, 10]},
    "geometricError": 100,
    "refine": "%s",
    "content": {"uri": "root.pnts"},
    "children": [
      {"boundingVolume": {"sphere": [-5, 0, 0, 5]}, "geometricError": 0, "content": {"uri": "a.pnts"}},
      {"boundingVolume": {"sphere": [5, 0, 0, 5]}, "geometricError": 0, "content": {"uri": "b.pnts"}}
    ]
  }
}`

func load(t *testing.T, doc string) *tileset.Tileset {
	ts, err := tileset.Load(context.Background(), docFetcher{"tileset.json": doc}, "tileset.json", tileset.LoadOptions{})
	require.NoError(t, err)
	return ts
}

func loadRefine(t *testing.T, refine string) *tileset.Tileset {
	return load(t, fmt.Sprintf(twoChildren, refine))
}

// Camera on the z axis looking at the origin
func cameraAt(z float64) geometry.Camera {
	return geometry.NewCameraLookAt(r3.Vector{Z: z}, r3.Vector{}, r3.Vector{Y: 1}, math.Pi/3, 1, 1000)
}

func ids(tiles []*tileset.Tile) []string {
	out := make([]string, 0, len(tiles))
	for _, t := range tiles {
		out = append(out, t.ID)
	}
	return out
}

func requested(requests []Request) []string {
	out := make([]string, 0, len(requests))
	for _, r := range requests {
		out = append(out, r.Tile.ID+":"+r.Kind.String())
	}
	return out
}

type touches []string

func (t *touches) Touch(key string) {
	*t = append(*t, key)
}

const (
	near = 100.0
	far  = 1e6
)

func TestScreenSpaceErrorDecreasesWithDistance(t *testing.T) {
	camera := cameraAt(near)
	previous := math.Inf(1)
	for _, d := range []float64{1, 10, 100, 1000, 1e4, 1e5} {
		sse := camera.ScreenSpaceError(100, d)
		assert.Less(t, sse, previous)
		previous = sse
	}
	assert.Equal(t, geometry.MaxScreenSpaceError, camera.ScreenSpaceError(100, 0))
}

func TestFarCameraRequestsRootOnly(t *testing.T) {
	ts := loadRefine(t, "REPLACE")
	result := NewLodSelector(16, nil).Select(1, cameraAt(far), ts)

	assert.Equal(t, uint64(1), result.Frame)
	assert.Empty(t, result.Draw)
	assert.Equal(t, []string{"root:content"}, requested(result.Requests))
	assert.Equal(t, 1, result.Visited)

	ts.Root.SetState(tileset.Ready)
	result = NewLodSelector(16, nil).Select(2, cameraAt(far), ts)
	assert.Equal(t, []string{"root"}, ids(result.Draw))
	assert.Empty(t, result.Requests)
}

func TestReplaceKeepsParentUntilChildrenAreReady(t *testing.T) {
	ts := loadRefine(t, "REPLACE")
	root := ts.Root
	a, b := root.Children()[0], root.Children()[1]
	selector := NewLodSelector(16, nil)

	// nothing loaded: the children and the stand-in are requested
	result := selector.Select(1, cameraAt(near), ts)
	assert.Empty(t, result.Draw)
	assert.Equal(t, []string{"root/0:content", "root/1:content", "root:content"}, requested(result.Requests))
	assert.Equal(t, 3, result.Visited)

	root.SetState(tileset.Ready)
	a.SetState(tileset.Ready)
	result = selector.Select(2, cameraAt(near), ts)
	assert.Equal(t, []string{"root"}, ids(result.Draw))
	assert.Equal(t, []string{"root/1:content"}, requested(result.Requests))

	b.SetState(tileset.Loading)
	result = selector.Select(3, cameraAt(near), ts)
	assert.Equal(t, []string{"root"}, ids(result.Draw))
	assert.Equal(t, []string{"root/1:content"}, requested(result.Requests), "loading tiles are still wanted")

	b.SetState(tileset.Ready)
	result = selector.Select(4, cameraAt(near), ts)
	assert.Equal(t, []string{"root/0", "root/1"}, ids(result.Draw))
	assert.Empty(t, result.Requests)
}

func TestReplaceWithFailedChild(t *testing.T) {
	ts := loadRefine(t, "REPLACE")
	root := ts.Root
	root.SetState(tileset.Ready)
	root.Children()[0].SetState(tileset.Ready)
	root.Children()[1].SetFailed(nil)

	result := NewLodSelector(16, nil).Select(1, cameraAt(near), ts)
	assert.Equal(t, []string{"root"}, ids(result.Draw), "a failed child is not renderable")
	assert.Empty(t, result.Requests, "failed tiles are not retried")
}

func TestReplaceWithoutStandIn(t *testing.T) {
	ts := loadRefine(t, "REPLACE")
	ts.Root.Children()[0].SetState(tileset.Ready)

	result := NewLodSelector(16, nil).Select(1, cameraAt(near), ts)
	assert.Equal(t, []string{"root/0"}, ids(result.Draw), "ready children are drawn while the parent loads")
	assert.Equal(t, []string{"root/1:content", "root:content"}, requested(result.Requests))
}

func TestAddDrawsParentAndChildren(t *testing.T) {
	ts := loadRefine(t, "ADD")
	ts.Walk(func(tile *tileset.Tile) bool {
		tile.SetState(tileset.Ready)
		return true
	})
	var touched touches
	result := NewLodSelector(16, &touched).Select(1, cameraAt(near), ts)
	assert.Equal(t, []string{"root", "root/0", "root/1"}, ids(result.Draw))
	assert.Empty(t, result.Requests)
	require.Len(t, touched, 3)
	assert.ElementsMatch(t, []string{"a.pnts", "b.pnts"}, touched[:2])
	assert.Equal(t, ts.Root.Content().Key(), touched[2], "children are visited before the parent is drawn")
}

func TestAddRequestsChildrenWithoutWaitingForParent(t *testing.T) {
	ts := loadRefine(t, "ADD")
	ts.Root.Children()[1].SetState(tileset.Ready)
	result := NewLodSelector(16, nil).Select(1, cameraAt(near), ts)
	assert.Equal(t, []string{"root/1"}, ids(result.Draw))
	assert.Equal(t, []string{"root/0:content", "root:content"}, requested(result.Requests))
}

func TestZeroGeometricErrorIsAlwaysLeaf(t *testing.T) {
	ts := load(t, `{
  "asset": {"version": "1.0"},
  "geometricError": 10,
  "root": {
    "boundingVolume": {"sphere": [0, 0, 0, 10]},
    "geometricError": 0,
    "content": {"uri": "root.pnts"},
    "children": [{"boundingVolume": {"sphere": [0, 0, 0, 5]}, "geometricError": 0, "content": {"uri": "child.pnts"}}]
  }
}`)
	ts.Root.SetState(tileset.Ready)
	// the camera is inside the root volume
	result := NewLodSelector(16, nil).Select(1, cameraAt(1), ts)
	assert.Equal(t, []string{"root"}, ids(result.Draw))
	assert.Empty(t, result.Requests)
	assert.Equal(t, 1, result.Visited)
}

func TestCameraInsideVolumeRefines(t *testing.T) {
	ts := loadRefine(t, "REPLACE")
	ts.Walk(func(tile *tileset.Tile) bool {
		tile.SetState(tileset.Ready)
		return true
	})
	// a huge threshold never refines, except when the camera is inside the volume
	selector := NewLodSelector(1e12, nil)
	assert.Equal(t, []string{"root"}, ids(selector.Select(1, cameraAt(near), ts).Draw))

	inside := geometry.NewCameraLookAt(r3.Vector{Z: 9}, r3.Vector{Z: -100}, r3.Vector{Y: 1}, math.Pi/3, 1, 1000)
	assert.Equal(t, []string{"root/0", "root/1"}, ids(selector.Select(2, inside, ts).Draw))
}

func TestCulledSubtreeIsNotVisited(t *testing.T) {
	ts := load(t, `{
  "asset": {"version": "1.0"},
  "geometricError": 200,
  "root": {
    "boundingVolume": {"sphere": [0, 0, 0, 2000]},
    "geometricError": 100,
    "children": [
      {"boundingVolume": {"sphere": [0, 0, 0, 5]}, "geometricError": 0, "content": {"uri": "visible.pnts"}},
      {
        "boundingVolume": {"sphere": [1000, 0, 0, 5]}, "geometricError": 10, "content": {"uri": "hidden.pnts"},
        "children": [{"boundingVolume": {"sphere": [1000, 0, 0, 1]}, "geometricError": 0, "content": {"uri": "deep.pnts"}}]
      }
    ]
  }
}`)
	result := NewLodSelector(16, nil).Select(1, cameraAt(near), ts)
	assert.Equal(t, 2, result.Visited)
	assert.Equal(t, []string{"root/0:content"}, requested(result.Requests))

	away := geometry.NewCameraLookAt(r3.Vector{Z: 5000}, r3.Vector{Z: 10000}, r3.Vector{Y: 1}, math.Pi/3, 1, 1000)
	result = NewLodSelector(16, nil).Select(2, away, ts)
	assert.Equal(t, 0, result.Visited)
	assert.Empty(t, result.Requests)
	assert.Empty(t, result.Draw)
}

func TestExpandRequests(t *testing.T) {
	ts := load(t, `{
  "asset": {"version": "1.0"},
  "geometricError": 200,
  "root": {
    "boundingVolume": {"sphere": [0, 0, 0, 10]},
    "geometricError": 100,
    "children": [
      {"boundingVolume": {"sphere": [-5, 0, 0, 5]}, "geometricError": 50, "content": {"uri": "nested.json"}},
      {"boundingVolume": {"sphere": [5, 0, 0, 5]}, "geometricError": 0, "content": {"uri": "b.pnts"}}
    ]
  }
}`)
	result := NewLodSelector(16, nil).Select(1, cameraAt(far), ts)
	assert.Empty(t, result.Requests, "the root is a leaf from far away")

	result = NewLodSelector(16, nil).Select(2, cameraAt(near), ts)
	assert.Equal(t, []string{"root/0:expand", "root/1:content"}, requested(result.Requests))

	nested := ts.Root.Children()[0]
	nested.SetExpandFailed(nil)
	result = NewLodSelector(16, nil).Select(3, cameraAt(near), ts)
	assert.Equal(t, []string{"root/1:content"}, requested(result.Requests), "failed expansions are not retried")
}

func TestRequestsCarryDistanceAndOrder(t *testing.T) {
	ts := loadRefine(t, "REPLACE")
	camera := geometry.NewCameraLookAt(r3.Vector{X: 50, Z: 50}, r3.Vector{}, r3.Vector{Y: 1}, math.Pi/2, 1, 1000)
	result := NewLodSelector(16, nil).Select(1, camera, ts)
	require.Len(t, result.Requests, 3)

	byID := map[string]Request{}
	for _, r := range result.Requests {
		byID[r.Tile.ID] = r
	}
	assert.Equal(t, 0, byID["root"].Order)
	assert.Equal(t, 1, byID["root/0"].Order)
	assert.Equal(t, 2, byID["root/1"].Order)
	assert.Less(t, byID["root/1"].Distance, byID["root/0"].Distance, "b is closer to the camera")
	assert.Less(t, byID["root"].Distance, byID["root/1"].Distance)
}
