package pkg

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecopia-map/cesium_streamer/internal/fetch"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/ecopia-map/cesium_streamer/pkg/algorithm_manager"
	"github.com/ecopia-map/cesium_streamer/tools"
	"github.com/golang/geo/r3"
	"github.com/golang/glog"
)

// HeadlessRenderer keeps the last submitted draw list instead of drawing it
type HeadlessRenderer struct {
	sync.Mutex
	last      []DrawCommand
	submitted int
	ready     int64
}

func NewHeadlessRenderer() *HeadlessRenderer {
	return &HeadlessRenderer{}
}

func (r *HeadlessRenderer) Submit(commands []DrawCommand) {
	r.Lock()
	defer r.Unlock()
	r.last = commands
	r.submitted++
}

func (r *HeadlessRenderer) OnContentReady() {
	atomic.AddInt64(&r.ready, 1)
}

func (r *HeadlessRenderer) LastDrawList() []DrawCommand {
	r.Lock()
	defer r.Unlock()
	return r.last
}

func (r *HeadlessRenderer) Submitted() int {
	r.Lock()
	defer r.Unlock()
	return r.submitted
}

func (r *HeadlessRenderer) ContentReadyCount() int64 {
	return atomic.LoadInt64(&r.ready)
}

// Simulator streams a tileset with a camera approaching its root volume and reports the frame statistics
type Simulator struct {
	fetcher          fetch.Fetcher
	algorithmManager algorithm_manager.AlgorithmManager
	renderer         *HeadlessRenderer
	stats            []*FrameStats
}

func NewSimulator(fetcher fetch.Fetcher, algorithmManager algorithm_manager.AlgorithmManager) *Simulator {
	return &Simulator{
		fetcher:          fetcher,
		algorithmManager: algorithmManager,
		renderer:         NewHeadlessRenderer(),
	}
}

func (sim *Simulator) RunCommand(opts *tiler.CommandOptions) error {
	if opts.Tileset == nil || opts.Tileset.URL == "" {
		return errors.New("input tileset is required")
	}
	streamerOpts := opts.Streamer
	if streamerOpts == nil {
		streamerOpts = tiler.NewStreamerOptions()
	}
	simOpts := opts.Simulation
	if simOpts == nil {
		simOpts = tiler.NewSimulationOptions()
	}

	streamer, err := NewStreamer(context.Background(), sim.fetcher, sim.renderer, sim.algorithmManager, streamerOpts, opts.Tileset)
	if err != nil {
		return err
	}
	defer streamer.Close()

	root := streamer.Tileset().Root
	if root == nil || root.BoundingVolume() == nil {
		return errors.New("tileset has no root bounding volume")
	}
	center := root.BoundingVolume().Center()
	radius := root.BoundingVolume().Radius()
	distance := simOpts.Distance
	if distance <= 0 {
		distance = 3 * radius
	}

	sim.stats = sim.stats[:0]
	for i := 0; i < simOpts.Frames; i++ {
		stats := streamer.Frame(OverheadCamera(center, distance, simOpts))
		sim.stats = append(sim.stats, stats)
		glog.V(1).Infof("frame %d: %s", stats.Frame, tools.FmtJSONString(stats))

		distance = math.Max(distance*simOpts.Approach, radius*0.01)
		if simOpts.FrameDelay > 0 {
			time.Sleep(simOpts.FrameDelay)
		}
	}

	if n := len(sim.stats); n > 0 {
		tools.LogOutput("last frame " + tools.FmtJSONString(sim.stats[n-1]))
	}
	tools.LogOutput("content ready notifications:", sim.renderer.ContentReadyCount())
	return nil
}

func (sim *Simulator) Stats() []*FrameStats {
	return sim.stats
}

func (sim *Simulator) Renderer() *HeadlessRenderer {
	return sim.renderer
}

// Returns a camera looking down at target from the given height, north up. Targets close to the earth
// center are treated as local coordinates with z up.
func OverheadCamera(target r3.Vector, height float64, opts *tiler.SimulationOptions) geometry.Camera {
	up, north := r3.Vector{Z: 1}, r3.Vector{Y: 1}
	if target.Norm() > geometry.WGS84SemiMinorAxis/2 {
		frame := geometry.EastNorthUpToFixedFrame(target)
		up, north = frame.Column(2), frame.Column(1)
	}
	aspect := float64(opts.Width) / float64(opts.Height)
	return geometry.NewCameraLookAt(target.Add(up.Mul(height)), target, north, geometry.DegToRad(opts.FovY), aspect, float64(opts.Height))
}
