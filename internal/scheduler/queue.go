package scheduler

import (
	"container/heap"
	"context"

	"github.com/ecopia-map/cesium_streamer/internal/selection"
	"github.com/ecopia-map/cesium_streamer/internal/tileset"
	"github.com/google/uuid"
)

type requestKey struct {
	tile *tileset.Tile
	kind selection.RequestKind
}

type request struct {
	id       uuid.UUID
	tile     *tileset.Tile
	kind     selection.RequestKind
	distance float64
	order    int
	index    int // position in the queue, -1 once popped

	// captured on the frame goroutine when the request is queued
	source *tileset.ContentSource
	expand tileset.ExpandFunc

	ctx    context.Context
	cancel context.CancelFunc
}

func (r *request) key() requestKey {
	return requestKey{tile: r.tile, kind: r.kind}
}

// requestQueue is a min heap on the camera distance, the traversal order breaks the ties
type requestQueue []*request

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].distance != q[j].distance {
		return q[i].distance < q[j].distance
	}
	return q[i].order < q[j].order
}

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *requestQueue) Push(x interface{}) {
	r := x.(*request)
	r.index = len(*q)
	*q = append(*q, r)
}

func (q *requestQueue) Pop() interface{} {
	old := *q
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*q = old[:n-1]
	return r
}

func (q *requestQueue) update(r *request, distance float64, order int) {
	r.distance = distance
	r.order = order
	heap.Fix(q, r.index)
}

func (q *requestQueue) remove(r *request) {
	heap.Remove(q, r.index)
}
