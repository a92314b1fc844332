// Package tileset models the tile tree of a 3D Tiles, I3S or S3M dataset.
// The tree is mutated on the frame goroutine only. Load states are atomic so that
// the request workers can read them.
package tileset

import (
	"sync/atomic"

	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
)

type LoadState int32

const (
	Unloaded LoadState = iota
	Loading
	Ready
	Failed
)

func (s LoadState) String() string {
	switch s {
	case Unloaded:
		return "UNLOADED"
	case Loading:
		return "LOADING"
	case Ready:
		return "READY"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// ContentSource is everything needed to fetch and decode the content of a tile
type ContentSource struct {
	URL    string
	Format content.Format
	// Extra resources keyed by attachment role, see content.DecodeOptions.Attachments
	Attachments map[string]string
	I3S         *content.I3SLayout
}

// Key of the content in the cache
func (s *ContentSource) Key() string {
	return s.URL
}

// Tile is a node of the tree. Children are owned by their parent, the parent link is a back pointer.
type Tile struct {
	ID             string
	GeometricError float64
	Refine         tiler.RefineMode
	// Local transform, composed with the parent world transform
	Transform geometry.Matrix4
	// Bounding volume in the tile local frame, as declared
	LocalVolume geometry.BoundingVolume

	worldTransform geometry.Matrix4
	volume         geometry.BoundingVolume
	source         *ContentSource
	children       []*Tile
	parent         *Tile
	tileset        *Tileset
	depth          int

	state       int32
	expandState int32
	expander    expander
	lastErr     atomic.Value
}

func newTile(ts *Tileset, parent *Tile, id string) *Tile {
	t := &Tile{
		ID:        id,
		Transform: geometry.IdentityMatrix,
		parent:    parent,
		tileset:   ts,
	}
	if parent != nil {
		t.depth = parent.depth + 1
		t.Refine = parent.Refine
	}
	return t
}

func (t *Tile) Parent() *Tile {
	return t.parent
}

func (t *Tile) Children() []*Tile {
	return t.children
}

func (t *Tile) HasChildren() bool {
	return len(t.children) > 0
}

func (t *Tile) Depth() int {
	return t.depth
}

func (t *Tile) Tileset() *Tileset {
	return t.tileset
}

// World space bounding volume
func (t *Tile) BoundingVolume() geometry.BoundingVolume {
	return t.volume
}

func (t *Tile) WorldTransform() geometry.Matrix4 {
	return t.worldTransform
}

// Returns nil for tiles without renderable content
func (t *Tile) Content() *ContentSource {
	return t.source
}

func (t *Tile) HasContent() bool {
	return t.source != nil
}

func (t *Tile) State() LoadState {
	return LoadState(atomic.LoadInt32(&t.state))
}

func (t *Tile) CompareAndSwapState(from, to LoadState) bool {
	return atomic.CompareAndSwapInt32(&t.state, int32(from), int32(to))
}

func (t *Tile) SetState(s LoadState) {
	atomic.StoreInt32(&t.state, int32(s))
}

func (t *Tile) SetFailed(err error) {
	if err != nil {
		t.lastErr.Store(err)
	}
	t.SetState(Failed)
}

// Error of the last failed load
func (t *Tile) Err() error {
	if err, ok := t.lastErr.Load().(error); ok {
		return err
	}
	return nil
}

// Moves a FAILED tile back to UNLOADED so that the next frame requests it again.
// The failed expansion, if any, is cleared too.
func (t *Tile) ClearFailed() bool {
	cleared := t.CompareAndSwapState(Failed, Unloaded)
	if atomic.CompareAndSwapInt32(&t.expandState, int32(Failed), int32(Unloaded)) {
		cleared = true
	}
	return cleared
}

// Ready, or nothing to load
func (t *Tile) IsRenderable() bool {
	return t.source == nil || t.State() == Ready
}

// True while the children of the tile are still to be fetched
func (t *Tile) NeedsExpansion() bool {
	return t.expander != nil
}

func (t *Tile) ExpandState() LoadState {
	return LoadState(atomic.LoadInt32(&t.expandState))
}

func (t *Tile) CompareAndSwapExpandState(from, to LoadState) bool {
	return atomic.CompareAndSwapInt32(&t.expandState, int32(from), int32(to))
}

func (t *Tile) SetExpandFailed(err error) {
	if err != nil {
		t.lastErr.Store(err)
	}
	atomic.StoreInt32(&t.expandState, int32(Failed))
}

// Computes the world transform and volume from the parent
func (t *Tile) updateWorld() {
	parentWorld := geometry.IdentityMatrix
	if t.parent != nil {
		parentWorld = t.parent.worldTransform
	} else if t.tileset != nil {
		parentWorld = t.tileset.offset
	}
	t.worldTransform = parentWorld.Multiply(t.Transform)
	t.volume = t.worldVolume(t.LocalVolume)
}

// Regions are geodetic and ignore the tile transforms, only the georeference offset moves them
func (t *Tile) worldVolume(v geometry.BoundingVolume) geometry.BoundingVolume {
	if v == nil {
		return nil
	}
	if v.Kind() == geometry.VolumeRegion {
		if t.tileset != nil {
			return v.TransformBy(t.tileset.offset)
		}
		return v
	}
	return v.TransformBy(t.worldTransform)
}

func (t *Tile) addChild(child *Tile) {
	child.parent = t
	child.depth = t.depth + 1
	t.children = append(t.children, child)
}

// Visits the tile and its loaded descendants depth first, stops descending when fn returns false
func (t *Tile) Walk(fn func(*Tile) bool) {
	if !fn(t) {
		return
	}
	for _, child := range t.children {
		child.Walk(fn)
	}
}
