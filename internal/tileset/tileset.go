package tileset

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/ecopia-map/cesium_streamer/internal/codec"
	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/ecopia-map/cesium_streamer/internal/converters/elevation/offset_elevation_corrector"
	"github.com/ecopia-map/cesium_streamer/internal/converters/ellipsoid_coordinate_converter"
	"github.com/ecopia-map/cesium_streamer/internal/fetch"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/golang/geo/r3"
	"github.com/golang/glog"
	json "github.com/goccy/go-json"
	"github.com/paulmach/orb"
)

type Kind int

const (
	Kind3DTiles Kind = iota
	KindI3S
	KindS3M
)

func (k Kind) String() string {
	switch k {
	case Kind3DTiles:
		return "3dtiles"
	case KindI3S:
		return "i3s"
	case KindS3M:
		return "s3m"
	}
	return "unknown"
}

// Geometric error of the tiles that are always refined, such as the container root of a S3M dataset
const alwaysRefine = math.MaxFloat32

type LoadOptions struct {
	// Used to convert the pixel thresholds of I3S and S3M nodes to geometric errors
	MaximumScreenSpaceError  float64
	EnableCompressedGeometry bool
	Codecs                   *codec.Registry
	HeightOffset             float64
	CoordOffset              [2]float64
	// EPSG code of the dataset when the document does not declare one
	Srid      int
	Converter converters.CoordinateConverter
}

func NewLoadOptions(streamer *tiler.StreamerOptions, ts *tiler.TilesetOptions, converter converters.CoordinateConverter) LoadOptions {
	opts := LoadOptions{
		MaximumScreenSpaceError:  streamer.ScreenSpaceErrorFor(ts),
		EnableCompressedGeometry: streamer.EnableCompressedGeometry,
		Converter:                converter,
	}
	if ts != nil {
		opts.HeightOffset = ts.HeightOffset
		opts.CoordOffset = ts.CoordOffset
		opts.Srid = ts.Srid
	}
	return opts
}

type Asset struct {
	Version        string `json:"version"`
	TilesetVersion string `json:"tilesetVersion,omitempty"`
}

// Tileset owns the tile tree of one dataset
type Tileset struct {
	URL            string
	Kind           Kind
	Asset          Asset
	GeometricError float64
	Root           *Tile
	Properties     map[string]json.RawMessage
	Extensions     map[string]json.RawMessage

	fetcher fetch.Fetcher
	options LoadOptions
	// Georeference correction, composed before the root transform
	offset geometry.Matrix4
	i3s    *i3sLayer
}

// Fetches the root document at url and builds the tile tree. Nested tilesets and I3S nodes are expanded lazily.
func Load(ctx context.Context, fetcher fetch.Fetcher, url string, opts LoadOptions) (*Tileset, error) {
	if opts.Converter == nil {
		opts.Converter = ellipsoid_coordinate_converter.NewEllipsoidCoordinateConverter()
	}
	if opts.MaximumScreenSpaceError <= 0 {
		opts.MaximumScreenSpaceError = tiler.DefaultMaximumScreenSpaceError
	}
	if opts.Codecs == nil {
		opts.Codecs = codec.NewDefaultRegistry()
	}

	data, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	kind, err := sniffDocument(url, data)
	if err != nil {
		return nil, err
	}

	ts := &Tileset{
		URL:     url,
		Kind:    kind,
		fetcher: fetcher,
		options: opts,
		offset:  geometry.IdentityMatrix,
	}
	switch kind {
	case Kind3DTiles:
		err = ts.load3DTiles(data)
	case KindI3S:
		err = ts.loadI3S(ctx, data)
	case KindS3M:
		err = ts.loadS3M(data)
	}
	if err != nil {
		return nil, err
	}
	if err := ts.applyOffset(); err != nil {
		return nil, err
	}

	glog.Infof("loaded %s tileset %s, root geometric error %v", kind, url, ts.Root.GeometricError)
	return ts, nil
}

// Decides the document kind from the extension and the json members
func sniffDocument(url string, data []byte) (Kind, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return 0, invalidField(url, "document", err)
	}
	lowerPath := strings.ToLower(documentPath(url))
	switch {
	case strings.HasSuffix(lowerPath, ".scp") || members["rootTiles"] != nil:
		return KindS3M, nil
	case members["layerType"] != nil || members["nodePages"] != nil || members["store"] != nil:
		return KindI3S, nil
	case members["root"] != nil || members["asset"] != nil:
		return Kind3DTiles, nil
	}
	return 0, invalidField(url, "root", ErrUnknownDocument)
}

func documentPath(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return u.Path
	}
	return rawURL
}

func (ts *Tileset) Fetcher() fetch.Fetcher {
	return ts.fetcher
}

// Translation applied to the whole tree to correct its georeference
func (ts *Tileset) Offset() geometry.Matrix4 {
	return ts.offset
}

// Visits the loaded tiles depth first
func (ts *Tileset) Walk(fn func(*Tile) bool) {
	ts.Root.Walk(fn)
}

// Longitude and latitude extent of the root volume, in degrees
func (ts *Tileset) Extent() orb.Bound {
	return ts.Root.BoundingVolume().Extent()
}

// The root origin is moved on the ellipsoid by the configured planar and height offsets.
// The resulting translation is kept apart from the tile transforms so that it is composed exactly once.
func (ts *Tileset) applyOffset() error {
	corrector := offset_elevation_corrector.NewOffsetCorrector(ts.options.HeightOffset, ts.options.CoordOffset[0], ts.options.CoordOffset[1])
	if corrector.IsZero() {
		return nil
	}
	origin := ts.Root.BoundingVolume().Center()
	if origin.Norm() < geometry.WGS84SemiMinorAxis/2 {
		glog.Warningf("tileset %s is not georeferenced, offsets are applied in the local frame", ts.URL)
		lon, lat, height := corrector.CorrectPosition(0, 0, 0)
		if lon != 0 || lat != 0 {
			return invalidField(ts.URL, "coordOffset", fmt.Errorf("planar offsets need a georeferenced tileset"))
		}
		ts.offset = geometry.NewTranslationMatrix(r3.Vector{Z: height})
		ts.Root.updateSubtree()
		return nil
	}

	converter := ts.options.Converter
	geographic, err := converter.ConvertCoordinateSrid(converters.SridWGS84Cartesian, converters.SridWGS84Geographic, origin)
	if err != nil {
		return err
	}
	lon, lat, height := corrector.CorrectPosition(geographic.X, geographic.Y, geographic.Z)
	moved, err := converter.ConvertToWGS84Cartesian(r3.Vector{X: lon, Y: lat, Z: height}, converters.SridWGS84Geographic)
	if err != nil {
		return err
	}
	ts.offset = geometry.NewTranslationMatrix(moved.Sub(origin))
	ts.Root.updateSubtree()
	glog.V(2).Infof("tileset %s moved by %v", ts.URL, moved.Sub(origin))
	return nil
}

func (t *Tile) updateSubtree() {
	t.updateWorld()
	for _, child := range t.children {
		child.updateSubtree()
	}
}

// Converts a pixel threshold on the projected diameter of a volume into the geometric error
// that triggers the refinement at the same camera distance
func thresholdGeometricError(maxSSE, diameter, threshold float64) float64 {
	if threshold <= 0 {
		return alwaysRefine
	}
	return maxSSE * diameter / threshold
}
