// Package selection decides, for one camera, which tiles are drawn and which ones must be loaded.
package selection

import (
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/ecopia-map/cesium_streamer/internal/tileset"
	"github.com/golang/glog"
)

type RequestKind int

const (
	// Fetch and decode the tile content
	RequestContent RequestKind = iota
	// Resolve the children of the tile: nested tileset or I3S node
	RequestExpand
)

func (k RequestKind) String() string {
	if k == RequestExpand {
		return "expand"
	}
	return "content"
}

type Request struct {
	Tile     *tileset.Tile
	Kind     RequestKind
	Distance float64
	// Traversal order, breaks the distance ties
	Order int
}

type FrameResult struct {
	Frame    uint64
	Draw     []*tileset.Tile
	Requests []Request
	// Number of tiles that passed the culling test
	Visited int
}

// Toucher refreshes the cache entries of the contents used in the frame
type Toucher interface {
	Touch(key string)
}

type Selector interface {
	Select(frame uint64, camera geometry.Camera, ts *tileset.Tileset) *FrameResult
}

type lodSelector struct {
	maximumScreenSpaceError float64
	cache                   Toucher
}

// cache may be nil
func NewLodSelector(maximumScreenSpaceError float64, cache Toucher) Selector {
	return &lodSelector{
		maximumScreenSpaceError: maximumScreenSpaceError,
		cache:                   cache,
	}
}

type traversal struct {
	camera  geometry.Camera
	culling geometry.CullingVolume
	maxSSE  float64
	cache   Toucher
	result  *FrameResult
	order   int
}

// Traverses the tree depth first in document order. Culled subtrees are not visited.
func (s *lodSelector) Select(frame uint64, camera geometry.Camera, ts *tileset.Tileset) *FrameResult {
	tr := &traversal{
		camera:  camera,
		culling: geometry.NewCullingVolume(camera),
		maxSSE:  s.maximumScreenSpaceError,
		cache:   s.cache,
		result:  &FrameResult{Frame: frame},
	}
	if ts != nil && ts.Root != nil {
		tr.result.Draw, _ = tr.visit(ts.Root)
	}
	glog.V(2).Infof("frame %d: %d visited, %d drawn, %d requested", frame, tr.result.Visited, len(tr.result.Draw), len(tr.result.Requests))
	return tr.result
}

// Returns the tiles drawn for the subtree and whether they cover it. A subtree is incomplete
// while a visible tile that should be drawn is not renderable, FAILED included.
func (tr *traversal) visit(t *tileset.Tile) ([]*tileset.Tile, bool) {
	volume := t.BoundingVolume()
	if volume == nil || tr.culling.Visibility(volume) == geometry.Outside {
		return nil, true
	}
	tr.result.Visited++
	order := tr.order
	tr.order++

	// distance 0 when the camera is inside the volume, the error is then infinite
	distance := volume.DistanceToCamera(tr.camera.Position)
	sse := tr.camera.ScreenSpaceError(t.GeometricError, distance)
	refine := t.GeometricError > 0 && sse > tr.maxSSE

	if t.NeedsExpansion() && (refine || !t.HasContent()) {
		tr.requestExpansion(t, distance, order)
	}
	if !refine || !t.HasChildren() {
		return tr.drawTile(t, distance, order)
	}

	var childDraws []*tileset.Tile
	childrenComplete := true
	for _, child := range t.Children() {
		draws, complete := tr.visit(child)
		childDraws = append(childDraws, draws...)
		childrenComplete = childrenComplete && complete
	}

	if t.Refine == tiler.RefineModeAdd {
		draws, complete := tr.drawTile(t, distance, order)
		return append(draws, childDraws...), complete && childrenComplete
	}
	if childrenComplete {
		return childDraws, true
	}
	// the parent stands in for its children until they are all renderable
	if t.HasContent() {
		if draws, complete := tr.drawTile(t, distance, order); complete {
			return draws, true
		}
	}
	return childDraws, false
}

// Draws the tile content when it is ready and requests it otherwise
func (tr *traversal) drawTile(t *tileset.Tile, distance float64, order int) ([]*tileset.Tile, bool) {
	if !t.HasContent() {
		return nil, !t.NeedsExpansion()
	}
	switch t.State() {
	case tileset.Ready:
		if tr.cache != nil {
			tr.cache.Touch(t.Content().Key())
		}
		return []*tileset.Tile{t}, true
	case tileset.Failed:
		return nil, false
	}
	tr.result.Requests = append(tr.result.Requests, Request{Tile: t, Kind: RequestContent, Distance: distance, Order: order})
	return nil, false
}

func (tr *traversal) requestExpansion(t *tileset.Tile, distance float64, order int) {
	if t.ExpandState() == tileset.Failed {
		return
	}
	tr.result.Requests = append(tr.result.Requests, Request{Tile: t, Kind: RequestExpand, Distance: distance, Order: order})
}
