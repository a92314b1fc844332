package io

import (
	"sync"

	"github.com/ecopia-map/cesium_streamer/internal/octree"
)

// Producer walks a built tree and submits one WorkUnit per non empty node
type Producer interface {
	Produce(work chan *WorkUnit, wg *sync.WaitGroup, node octree.INode)
}

// Consumer writes the tile files of the submitted WorkUnits until the work channel is closed
type Consumer interface {
	Consume(workchan chan *WorkUnit, errchan chan error, waitGroup *sync.WaitGroup)
}
