package io

import (
	"path"
	"sync"

	"github.com/ecopia-map/cesium_streamer/internal/octree"
	"github.com/golang/glog"
)

type StandardProducer struct {
	basePath string
}

// The tileset is written in the subfolder of basepath, one nested folder per node
func NewStandardProducer(basepath string, subfolder string) Producer {
	return &StandardProducer{
		basePath: path.Join(basepath, subfolder),
	}
}

// Submits the nodes depth first, parents before their children, then closes the work channel.
// Must be called on the tree root.
func (p *StandardProducer) Produce(work chan *WorkUnit, wg *sync.WaitGroup, node octree.INode) {
	defer wg.Done()
	units := p.produce(p.basePath, node, 0, work)
	close(work)
	glog.V(1).Infof("%d work units submitted for %s", units, p.basePath)
}

func (p *StandardProducer) produce(basePath string, node octree.INode, depth int, work chan *WorkUnit) int {
	units := 0
	// nodes without points only exist as parents of non empty ones
	if node.NumberOfPoints() > 0 {
		work <- &WorkUnit{
			Node:     node,
			BasePath: basePath,
			Depth:    depth,
		}
		units++
	}

	paths := node.GetChildrenPath()
	for i, child := range node.GetChildren() {
		units += p.produce(path.Join(basePath, paths[i]), child, depth+1, work)
	}
	return units
}
