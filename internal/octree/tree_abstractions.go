// Package octree describes the spatial index the generate command splits its points with.
package octree

import (
	"github.com/ecopia-map/cesium_streamer/internal/data"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/golang/geo/r3"
)

type ITree interface {
	// Converts the coordinate from srid to the internal reference system and stores the point
	AddPoint(coordinate r3.Vector, srid int, attributes data.PointAttributes) error
	// Distributes the stored points in the nodes. A tree is built once.
	Build() error
	IsBuilt() bool
	// Drops the nodes and the points
	Clear() bool
	GetRootNode() INode
}

// INode is one tile of the generated tileset
type INode interface {
	IsRoot() bool
	IsLeaf() bool
	GetParent() INode
	// ECEF axis aligned box
	GetBoundingBox() *geometry.Box
	// Non empty children in octant order
	GetChildren() []INode
	// Folder name of each child returned by GetChildren
	GetChildrenPath() []string
	GetPoints() []*data.Point
	TotalNumberOfPoints() int64
	NumberOfPoints() int32
	ComputeGeometricError() float64
}
