package tileset

import (
	"context"
)

// expander fetches the children of a tile that are not part of the root document:
// nested tilesets and I3S nodes
type expander interface {
	expand(ctx context.Context, t *Tile) ([]*Tile, error)
}

// ExpandFunc builds the children of a tile. It runs on the request workers and must not touch the tree.
type ExpandFunc func(ctx context.Context) ([]*Tile, error)

// Returns the pending expansion of the tile, nil when the children are resolved.
// Must be called on the frame goroutine.
func (t *Tile) Expansion() ExpandFunc {
	e := t.expander
	if e == nil {
		return nil
	}
	return func(ctx context.Context) ([]*Tile, error) {
		return e.expand(ctx, t)
	}
}

// Links the children built by an expansion and computes their world volumes.
// Must be called on the frame goroutine.
func (t *Tile) AttachChildren(children []*Tile) {
	for _, child := range children {
		t.addChild(child)
		child.updateSubtree()
	}
	t.expander = nil
	t.CompareAndSwapExpandState(Loading, Ready)
	t.CompareAndSwapExpandState(Unloaded, Ready)
}

// Used when the content of a tile turned out to be a tileset document: the tile loses its
// content and gets the document root as child.
func (t *Tile) ReplaceContentWithChildren(children []*Tile) {
	t.source = nil
	t.SetState(Unloaded)
	t.AttachChildren(children)
}
