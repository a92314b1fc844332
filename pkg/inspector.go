package pkg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ecopia-map/cesium_streamer/internal/fetch"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/ecopia-map/cesium_streamer/internal/tileset"
	"github.com/ecopia-map/cesium_streamer/pkg/algorithm_manager"
	"github.com/ecopia-map/cesium_streamer/tools"
	"github.com/golang/glog"
	"github.com/paulmach/orb"
)

type TilesetSummary struct {
	URL            string         `json:"url"`
	Kind           string         `json:"kind"`
	Version        string         `json:"version"`
	GeometricError float64        `json:"geometricError"`
	Tiles          int            `json:"tiles"`
	ContentTiles   int            `json:"contentTiles"`
	Unexpanded     int            `json:"unexpanded"`
	FailedExpands  int            `json:"failedExpands"`
	Depth          int            `json:"depth"`
	Formats        map[string]int `json:"formats"`
	Extent         orb.Bound      `json:"extent"`
}

// Inspector loads a tileset and prints its tree, resolving the lazy children up to a depth
type Inspector struct {
	fetcher          fetch.Fetcher
	algorithmManager algorithm_manager.AlgorithmManager
	lines            []string
}

func NewInspector(fetcher fetch.Fetcher, algorithmManager algorithm_manager.AlgorithmManager) *Inspector {
	if fetcher == nil {
		fetcher = fetch.NewFetcher(nil)
	}
	return &Inspector{
		fetcher:          fetcher,
		algorithmManager: algorithmManager,
	}
}

func (in *Inspector) RunCommand(opts *tiler.CommandOptions) error {
	if opts.Tileset == nil || opts.Tileset.URL == "" {
		return errors.New("input tileset is required")
	}
	streamerOpts := opts.Streamer
	if streamerOpts == nil {
		streamerOpts = tiler.NewStreamerOptions()
	}

	fetcher := in.fetcher
	if opts.Tileset.URLPrefix != "" {
		fetcher = fetch.WithURLModifier(fetcher, fetch.PrefixModifier(opts.Tileset.URLPrefix))
	}
	ctx := context.Background()
	loadOpts := tileset.NewLoadOptions(streamerOpts, opts.Tileset, in.algorithmManager.GetCoordinateConverterAlgorithm())
	ts, err := tileset.Load(ctx, fetcher, opts.Tileset.URL, loadOpts)
	if err != nil {
		return err
	}
	defer in.algorithmManager.GetCoordinateConverterAlgorithm().Cleanup()

	summary := in.Inspect(ctx, ts, opts.Depth)
	for _, line := range in.lines {
		tools.LogOutput(line)
	}
	tools.LogOutput(tools.FmtJSONString(summary))
	return nil
}

// Walks the tree depth first, expanding nested tilesets and I3S nodes synchronously while the depth is below
// maxDepth. Tiles deeper than maxDepth are not visited.
func (in *Inspector) Inspect(ctx context.Context, ts *tileset.Tileset, maxDepth int) *TilesetSummary {
	summary := &TilesetSummary{
		URL:            ts.URL,
		Kind:           ts.Kind.String(),
		Version:        ts.Asset.Version,
		GeometricError: ts.GeometricError,
		Formats:        make(map[string]int),
		Extent:         ts.Extent(),
	}
	in.lines = in.lines[:0]
	if ts.Root != nil {
		in.visit(ctx, ts.Root, 0, maxDepth, summary)
	}
	return summary
}

func (in *Inspector) visit(ctx context.Context, t *tileset.Tile, depth, maxDepth int, summary *TilesetSummary) {
	summary.Tiles++
	if depth > summary.Depth {
		summary.Depth = depth
	}
	line := fmt.Sprintf("%s%s gE=%g refine=%s", strings.Repeat("  ", depth), t.ID, t.GeometricError, t.Refine)
	if t.HasContent() {
		summary.ContentTiles++
		summary.Formats[t.Content().Format.String()]++
		line += " content=" + t.Content().URL
	}
	in.lines = append(in.lines, line)

	if t.NeedsExpansion() {
		if depth >= maxDepth {
			summary.Unexpanded++
			return
		}
		if err := expandNow(ctx, t); err != nil {
			glog.Warningf("tile %s: expansion failed: %v", t.ID, err)
			summary.FailedExpands++
		}
	}
	if depth >= maxDepth {
		return
	}
	for _, child := range t.Children() {
		in.visit(ctx, child, depth+1, maxDepth, summary)
	}
}

// Resolves the lazy children of the tile on the calling goroutine
func expandNow(ctx context.Context, t *tileset.Tile) error {
	expand := t.Expansion()
	if expand == nil || !t.CompareAndSwapExpandState(tileset.Unloaded, tileset.Loading) {
		return nil
	}
	children, err := expand(ctx)
	if err != nil {
		t.SetExpandFailed(err)
		return err
	}
	t.AttachChildren(children)
	return nil
}
