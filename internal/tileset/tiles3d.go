package tileset

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/fetch"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/golang/glog"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Documents from version 2 on are not understood
var maxTilesetVersion = decimal.NewFromInt(2)

type volumeJSON struct {
	Box    []float64 `json:"box"`
	Region []float64 `json:"region"`
	Sphere []float64 `json:"sphere"`
}

type contentJSON struct {
	URI            string      `json:"uri"`
	URL            string      `json:"url"` // 1.0 pre-release documents
	BoundingVolume *volumeJSON `json:"boundingVolume"`
}

type tileJSON struct {
	BoundingVolume *volumeJSON                `json:"boundingVolume"`
	GeometricError *float64                   `json:"geometricError"`
	Refine         string                     `json:"refine"`
	Transform      []float64                  `json:"transform"`
	Content        *contentJSON               `json:"content"`
	Children       []*tileJSON                `json:"children"`
	Extensions     map[string]json.RawMessage `json:"extensions"`
}

type documentJSON struct {
	Asset          *Asset                     `json:"asset"`
	GeometricError *float64                   `json:"geometricError"`
	Root           *tileJSON                  `json:"root"`
	Properties     map[string]json.RawMessage `json:"properties"`
	Extensions     map[string]json.RawMessage `json:"extensions"`
	ExtensionsUsed []string                   `json:"extensionsUsed"`
}

func parseVolume(v *volumeJSON, path string) (geometry.BoundingVolume, error) {
	if v == nil {
		return nil, missingField(path, "boundingVolume")
	}
	var (
		volume geometry.BoundingVolume
		err    error
	)
	switch {
	case v.Box != nil:
		volume, err = geometry.NewBoxFromArray(v.Box)
	case v.Region != nil:
		volume, err = geometry.NewRegionFromArray(v.Region)
	case v.Sphere != nil:
		volume, err = geometry.NewSphereFromArray(v.Sphere)
	default:
		return nil, invalidField(path, "boundingVolume", geometry.ErrInvalidVolume)
	}
	if err != nil {
		return nil, invalidField(path, "boundingVolume", err)
	}
	return volume, nil
}

// Parses a tileset document into a tile tree. parent is the tile holding the document as content,
// nil for the root document.
func (ts *Tileset) parseDocument(data []byte, docURL string, parent *Tile) (*Tile, *documentJSON, error) {
	var doc documentJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, invalidField(docURL, "document", err)
	}
	if doc.Asset == nil {
		return nil, nil, missingField(docURL, "asset")
	}
	if doc.Asset.Version == "" {
		return nil, nil, missingField(docURL+".asset", "version")
	}
	version, err := decimal.NewFromString(doc.Asset.Version)
	if err != nil {
		return nil, nil, invalidField(docURL+".asset", "version", err)
	}
	if version.GreaterThanOrEqual(maxTilesetVersion) {
		return nil, nil, invalidField(docURL+".asset", "version", fmt.Errorf("unsupported version %s", doc.Asset.Version))
	}
	if doc.GeometricError == nil {
		return nil, nil, missingField(docURL, "geometricError")
	}
	if doc.Root == nil {
		return nil, nil, missingField(docURL, "root")
	}

	id := "root"
	if parent != nil {
		id = parent.ID + "/tileset"
	}
	root, err := ts.parseTile(doc.Root, docURL, "root", id, parent)
	if err != nil {
		return nil, nil, err
	}
	if parent == nil {
		root.updateSubtree()
	}
	return root, &doc, nil
}

func (ts *Tileset) parseTile(raw *tileJSON, docURL, path, id string, parent *Tile) (*Tile, error) {
	t := newTile(ts, parent, id)

	volume, err := parseVolume(raw.BoundingVolume, path)
	if err != nil {
		return nil, err
	}
	t.LocalVolume = volume
	if raw.GeometricError == nil {
		return nil, missingField(path, "geometricError")
	}
	t.GeometricError = *raw.GeometricError
	if t.GeometricError < 0 {
		return nil, invalidField(path, "geometricError", fmt.Errorf("negative value %v", t.GeometricError))
	}
	if parent != nil && t.GeometricError > parent.GeometricError {
		glog.V(2).Infof("%s: geometric error %v is larger than the parent one %v", path, t.GeometricError, parent.GeometricError)
	}
	if raw.Refine != "" {
		mode := tiler.ParseRefineMode(raw.Refine)
		if mode == "" {
			return nil, invalidField(path, "refine", fmt.Errorf("unknown mode %q", raw.Refine))
		}
		t.Refine = mode
	}
	if t.Refine == "" {
		t.Refine = tiler.RefineModeReplace
	}
	if raw.Transform != nil {
		if t.Transform, err = geometry.NewMatrix4FromSlice(raw.Transform); err != nil {
			return nil, invalidField(path, "transform", err)
		}
	}

	if raw.Content != nil {
		uri := raw.Content.URI
		if uri == "" {
			uri = raw.Content.URL
		}
		if uri == "" {
			return nil, missingField(path+".content", "uri")
		}
		contentURL := fetch.Resolve(docURL, uri)
		if content.FormatFromURL(uri) == content.FormatTileset {
			t.expander = &externalTileset{url: contentURL}
		} else {
			t.source = &ContentSource{URL: contentURL, Format: content.FormatFromURL(uri)}
		}
	}

	for i, rawChild := range raw.Children {
		childPath := path + ".children[" + strconv.Itoa(i) + "]"
		child, err := ts.parseTile(rawChild, docURL, childPath, id+"/"+strconv.Itoa(i), t)
		if err != nil {
			return nil, err
		}
		t.children = append(t.children, child)
	}
	return t, nil
}

func (ts *Tileset) load3DTiles(data []byte) error {
	root, doc, err := ts.parseDocument(data, ts.URL, nil)
	if err != nil {
		return err
	}
	ts.Asset = *doc.Asset
	ts.GeometricError = *doc.GeometricError
	ts.Properties = doc.Properties
	ts.Extensions = doc.Extensions
	ts.Root = root
	if len(doc.ExtensionsUsed) > 0 {
		glog.V(1).Infof("tileset %s uses extensions %v", ts.URL, doc.ExtensionsUsed)
	}
	return nil
}

// externalTileset is the content of a tile pointing to another tileset document
type externalTileset struct {
	url string
}

func (e *externalTileset) expand(ctx context.Context, t *Tile) ([]*Tile, error) {
	data, err := t.tileset.fetcher.Fetch(ctx, e.url)
	if err != nil {
		return nil, err
	}
	return t.ParseExternalTileset(e.url, data)
}

// Parses a nested tileset document whose root becomes the single child of the tile.
// Safe to call off the frame goroutine, the children are attached by AttachChildren.
func (t *Tile) ParseExternalTileset(url string, data []byte) ([]*Tile, error) {
	root, _, err := t.tileset.parseDocument(data, url, t)
	if err != nil {
		return nil, err
	}
	return []*Tile{root}, nil
}
