package io

import "github.com/ecopia-map/cesium_streamer/internal/octree"

// One node of the generated tileset: its content.pnts and, for inner nodes, its tileset.json
type WorkUnit struct {
	Node octree.INode
	// Folder of the node files
	BasePath string
	// Depth of the node below the tree root
	Depth int
}
