package pkg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/ecopia-map/cesium_streamer/internal/ply"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/ecopia-map/cesium_streamer/pkg/algorithm_manager"
	"github.com/ecopia-map/cesium_streamer/tools"
	"github.com/golang/geo/r3"
	"github.com/golang/glog"
)

// ContentSummary describes a decoded tile content
type ContentSummary struct {
	Path         string   `json:"path"`
	Format       string   `json:"format"`
	Meshes       int      `json:"meshes"`
	Vertices     int      `json:"vertices"`
	Instances    int      `json:"instances,omitempty"`
	FeatureCount int      `json:"featureCount"`
	Properties   []string `json:"properties,omitempty"`
	Children     int      `json:"children,omitempty"`
	ByteSize     int64    `json:"byteSize"`
	ExternalGLTF string   `json:"externalGltf,omitempty"`
}

func SummarizeContent(path string, c *content.TileContent) *ContentSummary {
	s := &ContentSummary{
		Path:         path,
		Format:       c.Format.String(),
		FeatureCount: c.FeatureCount,
		Children:     len(c.Children) + len(c.ChildReferences),
		ByteSize:     c.ByteSize(),
		ExternalGLTF: c.ExternalGLTF,
	}
	for _, leaf := range c.Leaves() {
		s.Instances += len(leaf.Instances)
		for _, m := range leaf.Meshes {
			s.Meshes++
			s.Vertices += m.VertexCount()
		}
		if leaf.BatchTable != nil {
			s.Properties = append(s.Properties, leaf.BatchTable.Names()...)
		}
	}
	sort.Strings(s.Properties)
	return s
}

// Decoder decodes local tile files, printing their summary or exporting their geometry as PLY
type Decoder struct {
	fileFinder       tools.FileFinder
	algorithmManager algorithm_manager.AlgorithmManager
	summaries        []*ContentSummary
}

func NewDecoder(fileFinder tools.FileFinder, algorithmManager algorithm_manager.AlgorithmManager) *Decoder {
	return &Decoder{
		fileFinder:       fileFinder,
		algorithmManager: algorithmManager,
	}
}

func (d *Decoder) RunCommand(opts *tiler.CommandOptions) error {
	if opts.Command == tools.CommandExport {
		return d.export(opts)
	}

	files := d.fileFinder.GetTileFilesToProcess(opts.Input, opts.FolderProcessing, opts.Recursive)
	glog.Infof("%d tile files to decode", len(files))
	failed := 0
	for i, filePath := range files {
		c, err := d.decodeFile(filePath, opts)
		if err != nil {
			glog.Errorf("%s: %v", filePath, err)
			failed++
			continue
		}
		summary := SummarizeContent(filePath, c)
		d.summaries = append(d.summaries, summary)
		tools.LogOutput("decoded " + strconv.Itoa(i+1) + "/" + strconv.Itoa(len(files)) + " " + tools.FmtJSONString(summary))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to decode", failed, len(files))
	}
	return nil
}

// Summaries of the files decoded by the last run
func (d *Decoder) Summaries() []*ContentSummary {
	return d.summaries
}

func (d *Decoder) decodeFile(filePath string, opts *tiler.CommandOptions) (*content.TileContent, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	hint := content.ParseFormat(opts.Format)
	if hint == content.FormatUnknown {
		hint = content.FormatFromURL(filePath)
	}

	decodeOpts := content.NewDecodeOptions()
	if opts.Streamer != nil {
		decodeOpts.EnableCompressedGeometry = opts.Streamer.EnableCompressedGeometry
		decodeOpts.FillEmptyDataInMissingAttribute = opts.Streamer.FillEmptyDataInMissingAttribute
	}
	c, err := content.Decode(data, hint, decodeOpts)
	if err != nil || c.ExternalGLTF == "" {
		return c, err
	}

	// external glTF of instanced models are looked up next to the tile file
	glb, err := os.ReadFile(filepath.Join(filepath.Dir(filePath), filepath.FromSlash(c.ExternalGLTF)))
	if err != nil {
		return nil, err
	}
	decodeOpts.Attachments = map[string][]byte{content.AttachmentGLTF: glb}
	return content.Decode(data, hint, decodeOpts)
}

// Writes the positions of the decoded tile to a PLY file, reprojected from ECEF when a srid is given
func (d *Decoder) export(opts *tiler.CommandOptions) error {
	if opts.Output == "" {
		return errors.New("output file is required")
	}
	c, err := d.decodeFile(opts.Input, opts)
	if err != nil {
		return err
	}

	var transform ply.PositionTransform
	if srid := exportSrid(opts); srid != 0 && srid != converters.SridWGS84Cartesian {
		converter := d.algorithmManager.GetCoordinateConverterAlgorithm()
		defer converter.Cleanup()
		transform = func(p r3.Vector) (r3.Vector, error) {
			return converter.ConvertCoordinateSrid(converters.SridWGS84Cartesian, srid, p)
		}
	}

	verts, err := ply.VerticesFromContent(c, transform)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(strings.ToLower(opts.Output), ".ply") {
		opts.Output += ".ply"
	}
	if err := ply.WritePlyFile(opts.Output, verts); err != nil {
		return err
	}
	tools.LogOutput("exported " + strconv.Itoa(len(verts)) + " vertices to " + opts.Output)
	return nil
}

func exportSrid(opts *tiler.CommandOptions) int {
	if opts.Tileset == nil {
		return 0
	}
	return opts.Tileset.Srid
}
