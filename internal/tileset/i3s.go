package tileset

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/ecopia-map/cesium_streamer/internal/fetch"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/golang/geo/r3"
	"github.com/golang/glog"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	metricMaxScreenThreshold   = "maxScreenThreshold"
	metricMaxScreenThresholdSQ = "maxScreenThresholdSQ"

	// Concurrent node document fetches of a 1.6 expansion
	i3sLegacyFetchLimit = 4
)

var i3sNodePagesVersion = decimal.RequireFromString("1.7")

type i3sObbJSON struct {
	Center     []float64 `json:"center"`
	HalfSize   []float64 `json:"halfSize"`
	Quaternion []float64 `json:"quaternion"`
}

type i3sLayerJSON struct {
	Version   string `json:"version"`
	LayerType string `json:"layerType"`
	Store     struct {
		Version  string `json:"version"`
		RootNode string `json:"rootNode"`
	} `json:"store"`
	NodePages *struct {
		NodesPerPage           int    `json:"nodesPerPage"`
		LodSelectionMetricType string `json:"lodSelectionMetricType"`
		RootIndex              int    `json:"rootIndex"`
	} `json:"nodePages"`
}

// Node of a 1.7 node page
type i3sNodeJSON struct {
	Index        int         `json:"index"`
	LodThreshold float64     `json:"lodThreshold"`
	Obb          *i3sObbJSON `json:"obb"`
	Children     []int       `json:"children"`
	Mesh         *struct {
		Geometry *struct {
			Definition int `json:"definition"`
			Resource   int `json:"resource"`
		} `json:"geometry"`
		Attribute *struct {
			Resource int `json:"resource"`
		} `json:"attribute"`
	} `json:"mesh"`
}

type i3sNodePageJSON struct {
	Nodes []i3sNodeJSON `json:"nodes"`
}

type i3sHrefJSON struct {
	Href string `json:"href"`
}

// Node index document of a 1.6 layer
type i3sNodeDocJSON struct {
	ID           string      `json:"id"`
	Mbs          []float64   `json:"mbs"`
	Obb          *i3sObbJSON `json:"obb"`
	LodSelection []struct {
		MetricType string  `json:"metricType"`
		MaxError   float64 `json:"maxError"`
	} `json:"lodSelection"`
	Children      []i3sHrefJSON `json:"children"`
	GeometryData  []i3sHrefJSON `json:"geometryData"`
	AttributeData []i3sHrefJSON `json:"attributeData"`
}

// i3sLayer is the state shared by the nodes of a scene layer
type i3sLayer struct {
	base         string // resolves the layer relative resources
	layout       *content.I3SLayout
	srid         int
	nodesPerPage int
	metric       string
	compressed   bool
	maxSSE       float64
	converter    converters.CoordinateConverter
	fetcher      fetch.Fetcher

	group singleflight.Group
	mu    sync.Mutex
	pages map[int][]i3sNodeJSON
}

// Returns a base url against which refs resolve inside u
func asDirectory(u string) string {
	if parsed, err := url.Parse(u); err == nil && len(parsed.Scheme) > 1 {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/"
		return parsed.String()
	}
	return strings.TrimSuffix(u, "/") + "/"
}

// The layer document is either a 3dSceneLayer.json file or a REST resource
func layerBase(manifestURL string) string {
	p := strings.ToLower(documentPath(manifestURL))
	if strings.HasSuffix(p, ".json") || strings.HasSuffix(p, ".json.gz") {
		return manifestURL
	}
	return asDirectory(manifestURL)
}

func (ts *Tileset) loadI3S(ctx context.Context, data []byte) error {
	var doc i3sLayerJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return invalidField(ts.URL, "layer", err)
	}
	layout, err := content.ParseI3SLayout(data)
	if err != nil {
		return invalidField(ts.URL, "layer", err)
	}

	version := doc.Store.Version
	if version == "" {
		version = doc.Version
	}
	ts.Asset = Asset{Version: version}

	srid := layout.Srid
	if srid == 0 {
		srid = ts.options.Srid
	}
	if srid == 0 {
		srid = converters.SridWGS84Geographic
	}
	layout.Srid = srid

	layer := &i3sLayer{
		base:      layerBase(ts.URL),
		layout:    layout,
		srid:      srid,
		maxSSE:    ts.options.MaximumScreenSpaceError,
		converter: ts.options.Converter,
		fetcher:   ts.fetcher,
		pages:     make(map[int][]i3sNodeJSON),
	}
	if codecName := layout.CodecName(); codecName != "" && ts.options.EnableCompressedGeometry {
		if _, err := ts.options.Codecs.Lookup(codecName); err == nil {
			layer.compressed = true
		} else {
			glog.V(1).Infof("layer %s: codec %s is not registered, using the plain geometry buffers", ts.URL, codecName)
		}
	}
	ts.i3s = layer

	var root *Tile
	legacy := doc.NodePages == nil
	if v, err := decimal.NewFromString(version); err == nil && v.LessThan(i3sNodePagesVersion) {
		legacy = true
	}
	if legacy {
		rootRef := doc.Store.RootNode
		if rootRef == "" {
			rootRef = "./nodes/root"
		}
		root, err = layer.loadLegacyNode(ctx, ts, nil, fetch.Resolve(layer.base, rootRef))
	} else {
		if doc.NodePages.NodesPerPage <= 0 {
			return invalidField(ts.URL, "nodePages.nodesPerPage", fmt.Errorf("invalid value %d", doc.NodePages.NodesPerPage))
		}
		layer.nodesPerPage = doc.NodePages.NodesPerPage
		layer.metric = doc.NodePages.LodSelectionMetricType
		var node *i3sNodeJSON
		if node, err = layer.node(ctx, doc.NodePages.RootIndex); err == nil {
			root, err = layer.nodeTile(ts, nil, node)
		}
	}
	if err != nil {
		return err
	}
	root.updateSubtree()
	ts.Root = root
	ts.GeometricError = root.GeometricError
	return nil
}

// Returns the node of the given index, fetching its page once
func (l *i3sLayer) node(ctx context.Context, index int) (*i3sNodeJSON, error) {
	page := index / l.nodesPerPage
	l.mu.Lock()
	nodes, ok := l.pages[page]
	l.mu.Unlock()

	if !ok {
		v, err, _ := l.group.Do(strconv.Itoa(page), func() (interface{}, error) {
			pageURL := fetch.Resolve(l.base, "nodepages/"+strconv.Itoa(page))
			data, err := l.fetcher.Fetch(ctx, pageURL)
			if err != nil {
				return nil, err
			}
			var doc i3sNodePageJSON
			if err := json.Unmarshal(data, &doc); err != nil {
				return nil, invalidField(pageURL, "nodes", err)
			}
			l.mu.Lock()
			l.pages[page] = doc.Nodes
			l.mu.Unlock()
			return doc.Nodes, nil
		})
		if err != nil {
			return nil, err
		}
		nodes = v.([]i3sNodeJSON)
	}

	offset := index - page*l.nodesPerPage
	if offset < 0 || offset >= len(nodes) {
		return nil, invalidField("nodepages/"+strconv.Itoa(page), "nodes", fmt.Errorf("node %d is out of the page", index))
	}
	return &nodes[offset], nil
}

// Geographic position of a point expressed in the layer reference system
func (l *i3sLayer) cartographic(p r3.Vector) (geometry.Cartographic, error) {
	if converters.IsGeographic(l.srid) {
		return geometry.NewCartographicFromDegrees(p.X, p.Y, p.Z), nil
	}
	geographic, err := l.converter.ConvertCoordinateSrid(l.srid, converters.SridWGS84Geographic, p)
	if err != nil {
		return geometry.Cartographic{}, err
	}
	return geometry.NewCartographicFromDegrees(geographic.X, geographic.Y, geographic.Z), nil
}

// Geographic layers declare the obb rotation in ECEF, projected layers in the local east north up frame
func (l *i3sLayer) orientedBox(obb *i3sObbJSON, path string) (*geometry.Box, geometry.Cartographic, error) {
	if len(obb.Center) != 3 || len(obb.HalfSize) != 3 || len(obb.Quaternion) != 4 {
		return nil, geometry.Cartographic{}, invalidField(path, "obb", geometry.ErrInvalidVolume)
	}
	origin, err := l.cartographic(r3.Vector{X: obb.Center[0], Y: obb.Center[1], Z: obb.Center[2]})
	if err != nil {
		return nil, origin, err
	}
	center := origin.ToECEF()
	q := geometry.Quaternion{X: obb.Quaternion[0], Y: obb.Quaternion[1], Z: obb.Quaternion[2], W: obb.Quaternion[3]}
	columns := q.Normalize().RotationColumns()
	frame := geometry.IdentityMatrix
	if !converters.IsGeographic(l.srid) {
		frame = geometry.EastNorthUpToFixedFrame(center)
	}
	var halfAxes [3]r3.Vector
	for i := range halfAxes {
		halfAxes[i] = frame.MultiplyDirection(columns[i]).Mul(obb.HalfSize[i])
	}
	return geometry.NewBox(center, halfAxes), origin, nil
}

func (l *i3sLayer) sphere(mbs []float64, path string) (*geometry.Sphere, geometry.Cartographic, error) {
	if len(mbs) != 4 {
		return nil, geometry.Cartographic{}, invalidField(path, "mbs", geometry.ErrInvalidVolume)
	}
	origin, err := l.cartographic(r3.Vector{X: mbs[0], Y: mbs[1], Z: mbs[2]})
	if err != nil {
		return nil, origin, err
	}
	return geometry.NewSphere(origin.ToECEF(), mbs[3]), origin, nil
}

// Pixel diameter of the node volume above which the node is refined
func screenDiameter(metric string, threshold float64) float64 {
	if metric == metricMaxScreenThresholdSQ {
		return math.Sqrt(4 * threshold / math.Pi)
	}
	return threshold
}

func (l *i3sLayer) geometricError(metric string, threshold, radius float64, hasChildren bool) float64 {
	if !hasChildren {
		return 0
	}
	return thresholdGeometricError(l.maxSSE, 2*radius, screenDiameter(metric, threshold))
}

func (l *i3sLayer) nodeTile(ts *Tileset, parent *Tile, node *i3sNodeJSON) (*Tile, error) {
	path := "node " + strconv.Itoa(node.Index)
	if node.Obb == nil {
		return nil, missingField(path, "obb")
	}
	box, origin, err := l.orientedBox(node.Obb, path)
	if err != nil {
		return nil, err
	}
	t := newTile(ts, parent, "node-"+strconv.Itoa(node.Index))
	t.Refine = tiler.RefineModeReplace
	t.LocalVolume = box
	t.GeometricError = l.geometricError(l.metric, node.LodThreshold, box.Radius(), len(node.Children) > 0)

	if node.Mesh != nil && node.Mesh.Geometry != nil {
		resource := node.Mesh.Geometry.Resource
		buffer := 0
		if l.compressed {
			buffer = 1
		}
		source := &ContentSource{
			URL:    fetch.Resolve(l.base, fmt.Sprintf("nodes/%d/geometries/%d", resource, buffer)),
			Format: content.FormatI3S,
			I3S:    l.layout.ForNode(origin, l.compressed),
		}
		attributeResource := resource
		if node.Mesh.Attribute != nil {
			attributeResource = node.Mesh.Attribute.Resource
		}
		if len(l.layout.Attributes) > 0 {
			source.Attachments = make(map[string]string, len(l.layout.Attributes))
			for _, a := range l.layout.Attributes {
				source.Attachments[content.AttachmentI3SAttribute+a.Key] = fetch.Resolve(l.base, fmt.Sprintf("nodes/%d/attributes/%s/0", attributeResource, a.Key))
			}
		}
		t.source = source
	}
	if len(node.Children) > 0 {
		t.expander = &i3sPageChildren{layer: l, indices: node.Children}
	}
	return t, nil
}

// i3sPageChildren expands a node from the node pages
type i3sPageChildren struct {
	layer   *i3sLayer
	indices []int
}

func (e *i3sPageChildren) expand(ctx context.Context, t *Tile) ([]*Tile, error) {
	children := make([]*Tile, 0, len(e.indices))
	for _, index := range e.indices {
		node, err := e.layer.node(ctx, index)
		if err != nil {
			return nil, err
		}
		child, err := e.layer.nodeTile(t.tileset, t, node)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func (l *i3sLayer) loadLegacyNode(ctx context.Context, ts *Tileset, parent *Tile, nodeURL string) (*Tile, error) {
	data, err := l.fetcher.Fetch(ctx, nodeURL)
	if err != nil {
		return nil, err
	}
	var doc i3sNodeDocJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, invalidField(nodeURL, "node", err)
	}
	return l.legacyNodeTile(ts, parent, nodeURL, &doc)
}

func (l *i3sLayer) legacyNodeTile(ts *Tileset, parent *Tile, nodeURL string, doc *i3sNodeDocJSON) (*Tile, error) {
	var (
		volume geometry.BoundingVolume
		origin geometry.Cartographic
		err    error
	)
	// positions are offsets from the mbs center
	if len(doc.Mbs) > 0 {
		var sphere *geometry.Sphere
		sphere, origin, err = l.sphere(doc.Mbs, nodeURL)
		volume = sphere
	}
	if err == nil && doc.Obb != nil {
		var box *geometry.Box
		var center geometry.Cartographic
		box, center, err = l.orientedBox(doc.Obb, nodeURL)
		volume = box
		if len(doc.Mbs) == 0 {
			origin = center
		}
	}
	if err != nil {
		return nil, err
	}
	if volume == nil {
		return nil, missingField(nodeURL, "mbs")
	}

	id := doc.ID
	if id == "" {
		id = nodeURL
	}
	t := newTile(ts, parent, id)
	t.Refine = tiler.RefineModeReplace
	t.LocalVolume = volume

	metric, threshold := "", 0.0
	for _, lod := range doc.LodSelection {
		if lod.MetricType == metricMaxScreenThresholdSQ || lod.MetricType == metricMaxScreenThreshold {
			metric, threshold = lod.MetricType, lod.MaxError
			break
		}
	}
	t.GeometricError = l.geometricError(metric, threshold, volume.Radius(), len(doc.Children) > 0)

	dir := asDirectory(nodeURL)
	if len(doc.GeometryData) > 0 {
		source := &ContentSource{
			URL:    fetch.Resolve(dir, doc.GeometryData[0].Href),
			Format: content.FormatI3S,
			I3S:    l.layout.ForNode(origin, false),
		}
		for i, a := range doc.AttributeData {
			if i >= len(l.layout.Attributes) {
				break
			}
			if source.Attachments == nil {
				source.Attachments = make(map[string]string)
			}
			source.Attachments[content.AttachmentI3SAttribute+l.layout.Attributes[i].Key] = fetch.Resolve(dir, a.Href)
		}
		t.source = source
	}
	if len(doc.Children) > 0 {
		urls := make([]string, len(doc.Children))
		for i, child := range doc.Children {
			urls[i] = fetch.Resolve(dir, child.Href)
		}
		t.expander = &i3sNodeDocuments{layer: l, urls: urls}
	}
	return t, nil
}

// i3sNodeDocuments expands a 1.6 node from the node index documents of its children
type i3sNodeDocuments struct {
	layer *i3sLayer
	urls  []string
}

func (e *i3sNodeDocuments) expand(ctx context.Context, t *Tile) ([]*Tile, error) {
	children := make([]*Tile, len(e.urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i3sLegacyFetchLimit)
	for i, nodeURL := range e.urls {
		i, nodeURL := i, nodeURL
		g.Go(func() error {
			child, err := e.layer.loadLegacyNode(gctx, t.tileset, t, nodeURL)
			if err != nil {
				return err
			}
			children[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return children, nil
}
