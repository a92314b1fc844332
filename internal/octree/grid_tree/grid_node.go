package grid_tree

import (
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ecopia-map/cesium_streamer/internal/data"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/octree"
	"github.com/golang/geo/r3"
)

// Models a node of the octree, which can either be a leaf (a node without children nodes) or not.
// Each Node can contain up to eight children nodes. The node uses a grid algorithm to decide which points to store.
// It divides its bounding box in gridCells and only stores points retained by these cells, propagating the ones rejected
// by the cells to its children which will have smaller cells.
// Nodes whose cells are smaller than the minimum cell size keep every point they receive.
type GridNode struct {
	root                bool
	parent              *GridNode
	min                 r3.Vector
	max                 r3.Vector
	children            [8]*GridNode
	cells               map[gridIndex]*gridCell
	points              []*data.Point
	cellSize            float64
	minCellSize         float64
	totalNumberOfPoints int64
	numberOfPoints      int32
	leaf                int32

	sync.RWMutex
}

type gridIndex struct {
	x, y, z int
}

// A grid cell retains the point closest to its center
type gridCell struct {
	center r3.Vector
	point  *data.Point
	sync.Mutex
}

// Stores the point if it is closer to the cell center than the retained one, returns the rejected point
func (c *gridCell) pushPoint(point *data.Point) *data.Point {
	c.Lock()
	defer c.Unlock()

	if c.point == nil {
		c.point = point
		return nil
	}
	if c.distance(point) < c.distance(c.point) {
		c.point, point = point, c.point
	}
	return point
}

func (c *gridCell) distance(point *data.Point) float64 {
	return point.Sub(c.center).Norm2()
}

// Instantiates a new GridNode
func NewGridNode(parent *GridNode, min, max r3.Vector, maxCellSize float64, minCellSize float64, root bool) *GridNode {
	return &GridNode{
		parent:      parent,
		root:        root,
		min:         min,
		max:         max,
		cellSize:    maxCellSize,
		minCellSize: minCellSize,
		cells:       make(map[gridIndex]*gridCell),
		leaf:        1,
	}
}

// Adds a Point to the GridNode and propagates the point eventually pushed out to the appropriate children
func (n *GridNode) AddDataPoint(point *data.Point) {
	if point == nil {
		return
	}

	if n.cellSize < n.minCellSize {
		n.Lock()
		n.points = append(n.points, point)
		n.Unlock()
		atomic.AddInt32(&n.numberOfPoints, 1)
	} else if pushedOutPoint := n.getPointGridCell(point).pushPoint(point); pushedOutPoint != nil {
		n.addPointToChildren(pushedOutPoint)
	} else {
		// if no point was rejected then the number of points stored is increased by 1
		atomic.AddInt32(&n.numberOfPoints, 1)
	}

	// in any case the total number of points stored by the node or its children increases by one
	atomic.AddInt64(&n.totalNumberOfPoints, 1)
}

func (n *GridNode) GetBoundingBox() *geometry.Box {
	return geometry.NewBoxFromMinMax(n.min, n.max)
}

func (n *GridNode) GetChildren() []octree.INode {
	n.RLock()
	defer n.RUnlock()
	var children []octree.INode
	for _, child := range n.children {
		if child != nil && child.TotalNumberOfPoints() > 0 {
			children = append(children, child)
		}
	}
	return children
}

func (n *GridNode) GetChildrenPath() []string {
	n.RLock()
	defer n.RUnlock()
	var paths []string
	for i, child := range n.children {
		if child != nil && child.TotalNumberOfPoints() > 0 {
			paths = append(paths, strconv.Itoa(i))
		}
	}
	return paths
}

func (n *GridNode) GetPoints() []*data.Point {
	return n.points
}

func (n *GridNode) TotalNumberOfPoints() int64 {
	return atomic.LoadInt64(&n.totalNumberOfPoints)
}

func (n *GridNode) NumberOfPoints() int32 {
	return atomic.LoadInt32(&n.numberOfPoints)
}

func (n *GridNode) IsLeaf() bool {
	return atomic.LoadInt32(&n.leaf) == 1
}

func (n *GridNode) IsRoot() bool {
	return n.root
}

func (n *GridNode) GetParent() octree.INode {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

// Leaves hold the full resolution points and have no error. The root error is the diagonal of its box.
func (n *GridNode) ComputeGeometricError() float64 {
	if n.IsLeaf() {
		return 0
	}
	if n.IsRoot() {
		return n.max.Sub(n.min).Norm()
	}
	return n.cellSize * math.Sqrt(3) * 2
}

// Moves the points retained by the grid cells to the points slice, recursively
func (n *GridNode) BuildPoints() {
	for _, cell := range n.cells {
		n.points = append(n.points, cell.point)
	}
	n.cells = make(map[gridIndex]*gridCell)

	for _, child := range n.children {
		if child != nil {
			child.BuildPoints()
		}
	}
}

func (n *GridNode) getPointGridCell(point *data.Point) *gridCell {
	index := gridIndex{
		getDimensionIndex(point.X-n.min.X, n.cellSize),
		getDimensionIndex(point.Y-n.min.Y, n.cellSize),
		getDimensionIndex(point.Z-n.min.Z, n.cellSize),
	}

	n.RLock()
	cell := n.cells[index]
	n.RUnlock()
	if cell != nil {
		return cell
	}

	n.Lock()
	defer n.Unlock()
	// another loader may have created the cell meanwhile
	if cell = n.cells[index]; cell == nil {
		cell = &gridCell{
			center: r3.Vector{
				X: n.min.X + (float64(index.x)+0.5)*n.cellSize,
				Y: n.min.Y + (float64(index.y)+0.5)*n.cellSize,
				Z: n.min.Z + (float64(index.z)+0.5)*n.cellSize,
			},
		}
		n.cells[index] = cell
	}
	return cell
}

func getDimensionIndex(value float64, cellSize float64) int {
	return int(math.Floor(value / cellSize))
}

func (n *GridNode) addPointToChildren(point *data.Point) {
	octant := n.getOctant(point)

	n.Lock()
	child := n.children[octant]
	if child == nil {
		lo, hi := n.getOctantBounds(octant)
		child = NewGridNode(n, lo, hi, n.cellSize/2.0, n.minCellSize, false)
		n.children[octant] = child
		atomic.StoreInt32(&n.leaf, 0)
	}
	n.Unlock()

	child.AddDataPoint(point)
}

func (n *GridNode) mid() r3.Vector {
	return n.min.Add(n.max).Mul(0.5)
}

func (n *GridNode) getOctant(point *data.Point) uint8 {
	mid := n.mid()
	var result uint8 = 0
	if point.X > mid.X {
		result += 1
	}
	if point.Y > mid.Y {
		result += 2
	}
	if point.Z > mid.Z {
		result += 4
	}
	return result
}

func (n *GridNode) getOctantBounds(octant uint8) (r3.Vector, r3.Vector) {
	mid := n.mid()
	lo, hi := n.min, mid
	if octant&1 != 0 {
		lo.X, hi.X = mid.X, n.max.X
	}
	if octant&2 != 0 {
		lo.Y, hi.Y = mid.Y, n.max.Y
	}
	if octant&4 != 0 {
		lo.Z, hi.Z = mid.Z, n.max.Z
	}
	return lo, hi
}
