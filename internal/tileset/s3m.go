package tileset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/ecopia-map/cesium_streamer/internal/fetch"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/golang/geo/r3"
	"github.com/golang/glog"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

type s3mPointJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p s3mPointJSON) vector() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

// S3M scene configuration, the .scp document
type s3mConfigJSON struct {
	Version  string `json:"version"`
	Position *struct {
		s3mPointJSON
		Units string `json:"units"`
	} `json:"position"`
	PrjCoordSys *struct {
		EPSG int `json:"epsg"`
	} `json:"prjCoordSys"`
	RootTiles []struct {
		URL         string `json:"url"`
		BoundingBox *struct {
			Min s3mPointJSON `json:"min"`
			Max s3mPointJSON `json:"max"`
		} `json:"boundingbox"`
	} `json:"rootTiles"`
}

var s3mMaxConfigVersion = decimal.NewFromInt(4)

// The scene root is a content-less container always refined into the root tiles.
// Root tiles are leaves until their block is decoded and its child references are known.
func (ts *Tileset) loadS3M(data []byte) error {
	var doc s3mConfigJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return invalidField(ts.URL, "document", err)
	}
	if doc.Version != "" {
		v, err := decimal.NewFromString(doc.Version)
		if err != nil {
			return invalidField(ts.URL, "version", err)
		}
		if v.GreaterThanOrEqual(s3mMaxConfigVersion) {
			return invalidField(ts.URL, "version", fmt.Errorf("unsupported version %s", doc.Version))
		}
	}
	if len(doc.RootTiles) == 0 {
		return missingField(ts.URL, "rootTiles")
	}
	ts.Asset = Asset{Version: doc.Version}

	root := newTile(ts, nil, "root")
	root.Refine = tiler.RefineModeReplace
	root.GeometricError = alwaysRefine
	if doc.Position != nil {
		srid := ts.options.Srid
		if doc.PrjCoordSys != nil && doc.PrjCoordSys.EPSG != 0 {
			srid = doc.PrjCoordSys.EPSG
		}
		if strings.EqualFold(doc.Position.Units, "degree") {
			srid = converters.SridWGS84Geographic
		}
		if srid != 0 {
			origin, err := ts.options.Converter.ConvertToWGS84Cartesian(doc.Position.vector(), srid)
			if err != nil {
				return invalidField(ts.URL, "position", err)
			}
			root.Transform = geometry.EastNorthUpToFixedFrame(origin)
		} else {
			glog.Warningf("scene %s is not georeferenced", ts.URL)
			root.Transform = geometry.NewTranslationMatrix(doc.Position.vector())
		}
	}

	var sceneMin, sceneMax r3.Vector
	for i, rt := range doc.RootTiles {
		path := "rootTiles[" + strconv.Itoa(i) + "]"
		if rt.URL == "" {
			return missingField(path, "url")
		}
		if rt.BoundingBox == nil {
			return missingField(path, "boundingbox")
		}
		lo, hi := rt.BoundingBox.Min.vector(), rt.BoundingBox.Max.vector()
		child := newTile(ts, root, "root/"+strconv.Itoa(i))
		child.LocalVolume = geometry.NewBoxFromMinMax(lo, hi)
		child.source = &ContentSource{URL: fetch.Resolve(ts.URL, rt.URL), Format: content.FormatS3M}
		root.children = append(root.children, child)

		if i == 0 {
			sceneMin, sceneMax = lo, hi
		} else {
			sceneMin = r3.Vector{X: minFloat(sceneMin.X, lo.X), Y: minFloat(sceneMin.Y, lo.Y), Z: minFloat(sceneMin.Z, lo.Z)}
			sceneMax = r3.Vector{X: maxFloat(sceneMax.X, hi.X), Y: maxFloat(sceneMax.Y, hi.Y), Z: maxFloat(sceneMax.Z, hi.Z)}
		}
	}
	root.LocalVolume = geometry.NewBoxFromMinMax(sceneMin, sceneMax)
	root.updateSubtree()

	ts.Root = root
	ts.GeometricError = alwaysRefine
	return nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Builds the children of a S3M tile from the child references of its decoded block and derives the
// tile geometric error from the smallest range value. Returns false when nothing was attached.
// Must be called on the frame goroutine.
func (t *Tile) AttachContentChildren(c *content.TileContent) bool {
	if t.source == nil || t.source.Format != content.FormatS3M || len(t.children) > 0 || len(c.ChildReferences) == 0 {
		return false
	}
	rangeValue := 0.0
	children := make([]*Tile, 0, len(c.ChildReferences))
	for i, ref := range c.ChildReferences {
		child := newTile(t.tileset, t, t.ID+"/"+strconv.Itoa(i))
		child.LocalVolume = geometry.NewSphere(ref.Center, ref.Radius)
		child.source = &ContentSource{URL: fetch.Resolve(t.source.URL, ref.URI), Format: content.FormatS3M}
		children = append(children, child)
		if ref.RangeValue > 0 && (rangeValue == 0 || ref.RangeValue < rangeValue) {
			rangeValue = ref.RangeValue
		}
	}
	maxSSE := tiler.DefaultMaximumScreenSpaceError
	if t.tileset != nil {
		maxSSE = t.tileset.options.MaximumScreenSpaceError
	}
	t.GeometricError = thresholdGeometricError(maxSSE, 2*t.LocalVolume.Radius(), rangeValue)
	t.AttachChildren(children)
	glog.V(2).Infof("tile %s: %d child blocks, geometric error %v", t.ID, len(children), t.GeometricError)
	return true
}
