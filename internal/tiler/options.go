package tiler

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

type RefineMode string

const (
	RefineModeAdd     RefineMode = "ADD"
	RefineModeReplace RefineMode = "REPLACE"
)

func (e RefineMode) String() string {
	if e == RefineModeAdd {
		return "ADD"
	} else if e == RefineModeReplace {
		return "REPLACE"
	}
	return ""
}

func ParseRefineMode(value string) RefineMode {
	normalizedValue := strings.Trim(strings.ToUpper(value), " ")
	if normalizedValue == "ADD" {
		return RefineModeAdd
	} else if normalizedValue == "REPLACE" {
		return RefineModeReplace
	}
	return ""
}

const (
	DefaultMaximumScreenSpaceError = 16.0
	DefaultCacheBudgetBytes        = int64(512 * 1024 * 1024)
	DefaultMaxConcurrentRequests   = 6
)

// Contains the options consumed by the streaming engine
type StreamerOptions struct {
	MaximumScreenSpaceError         float64 // SSE threshold in pixels above which a tile is refined
	EnableCompressedGeometry        bool    // if false compressed geometry paths are skipped in favour of plain buffers
	FillEmptyDataInMissingAttribute bool    // zero-fill declared attributes that are absent from the payload
	CacheBudgetBytes                int64   // decoded content byte budget
	MaxConcurrentRequests           int     // max number of in-flight fetches
	DecodeWorkers                   int     // number of decode consumers, 0 means one per CPU
}

// Contains the per tileset options
type TilesetOptions struct {
	URL                     string
	MaximumScreenSpaceError float64    // overrides the streamer threshold when > 0
	HeightOffset            float64    // vertical offset in meters applied to the root
	CoordOffset             [2]float64 // planar offset [lon, lat] in degrees applied to the root
	URLPrefix               string     // prepended to every request url, used for proxying
	Srid                    int        // EPSG code of the dataset when the document does not declare one
}

func NewStreamerOptions() *StreamerOptions {
	return &StreamerOptions{
		MaximumScreenSpaceError:  DefaultMaximumScreenSpaceError,
		EnableCompressedGeometry: true,
		CacheBudgetBytes:         DefaultCacheBudgetBytes,
		MaxConcurrentRequests:    DefaultMaxConcurrentRequests,
		DecodeWorkers:            runtime.NumCPU(),
	}
}

func (opt *StreamerOptions) Copy() *StreamerOptions {
	newOpt := *opt
	return &newOpt
}

func (opt *StreamerOptions) Validate() error {
	if opt.MaximumScreenSpaceError <= 0 {
		return fmt.Errorf("maximumScreenSpaceError must be > 0, got %v", opt.MaximumScreenSpaceError)
	}
	if opt.CacheBudgetBytes < 0 {
		return fmt.Errorf("cacheBudgetBytes must be >= 0, got %d", opt.CacheBudgetBytes)
	}
	if opt.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("maxConcurrentRequests must be > 0, got %d", opt.MaxConcurrentRequests)
	}
	if opt.DecodeWorkers < 0 {
		return fmt.Errorf("decodeWorkers must be >= 0, got %d", opt.DecodeWorkers)
	}
	return nil
}

// Returns the number of decode consumers to launch
func (opt *StreamerOptions) NumDecodeWorkers() int {
	if opt.DecodeWorkers > 0 {
		return opt.DecodeWorkers
	}
	return runtime.NumCPU()
}

// Returns the SSE threshold to apply to the given tileset
func (opt *StreamerOptions) ScreenSpaceErrorFor(ts *TilesetOptions) float64 {
	if ts != nil && ts.MaximumScreenSpaceError > 0 {
		return ts.MaximumScreenSpaceError
	}
	return opt.MaximumScreenSpaceError
}

// Returns true if the tileset requires a georeference correction of its root
func (ts *TilesetOptions) HasOffset() bool {
	return ts.HeightOffset != 0 || ts.CoordOffset[0] != 0 || ts.CoordOffset[1] != 0
}

// Contains the options of the command line tool
type CommandOptions struct {
	Command          string
	Input            string // Input tile file, tileset document or folder
	Output           string // Output file or folder
	FolderProcessing bool   // Enables the processing of all tile files in the input folder
	Recursive        bool   // Recursive lookup of tile files in subfolders
	Depth            int    // Depth of the generated tileset
	PointsPerTile    int    // Number of points per generated tile
	Compress         bool   // Encodes the generated geometry with the qdeflate codec
	RefineMode       RefineMode
	Format           string // Format hint of the decoded tile files
	Streamer         *StreamerOptions
	Tileset          *TilesetOptions
	Simulation       *SimulationOptions
}

// Contains the camera path of the simulate command
type SimulationOptions struct {
	Frames     int
	Distance   float64 // initial distance from the root volume center, 0 means 3 radii
	Approach   float64 // factor applied to the distance at each frame
	FovY       float64 // degrees
	Width      int
	Height     int
	FrameDelay time.Duration
}

func NewSimulationOptions() *SimulationOptions {
	return &SimulationOptions{
		Frames:     60,
		Approach:   0.95,
		FovY:       60,
		Width:      1920,
		Height:     1080,
		FrameDelay: 16 * time.Millisecond,
	}
}

// Implemented by the command line tool commands
type ICommand interface {
	RunCommand(opts *CommandOptions) error
}
