package tools

import (
	"flag"

	"github.com/golang/glog"
)

const (
	CommandInspect  = "inspect"
	CommandDecode   = "decode"
	CommandExport   = "export"
	CommandGenerate = "generate"
	CommandSimulate = "simulate"
)

type FlagsGlobal struct {
	Help    *bool `json:"help"`
	Version *bool `json:"version"`
}

type StreamerFlags struct {
	Config                          *string  `json:"config"`
	MaximumScreenSpaceError         *float64 `json:"maximum_screen_space_error"`
	EnableCompressedGeometry        *bool    `json:"enable_compressed_geometry"`
	FillEmptyDataInMissingAttribute *bool    `json:"fill_empty_data_in_missing_attribute"`
	CacheBudgetBytes                *int64   `json:"cache_budget_bytes"`
	MaxConcurrentRequests           *int     `json:"max_concurrent_requests"`
	DecodeWorkers                   *int     `json:"decode_workers"`
}

type TilesetFlags struct {
	Input        *string  `json:"input"`
	HeightOffset *float64 `json:"height_offset"`
	LonOffset    *float64 `json:"lon_offset"`
	LatOffset    *float64 `json:"lat_offset"`
	URLPrefix    *string  `json:"url_prefix"`
	Srid         *int     `json:"srid"`
}

type LoggerFlags struct {
	Silent       *bool
	LogTimestamp *bool
	Help         *bool
}

type FlagsForCommandInspect struct {
	TilesetFlags
	LoggerFlags
	Depth *int
}

type FlagsForCommandDecode struct {
	StreamerFlags
	LoggerFlags
	Input            *string
	Format           *string
	FolderProcessing *bool
	Recursive        *bool
}

type FlagsForCommandExport struct {
	StreamerFlags
	LoggerFlags
	Input  *string
	Output *string
	Format *string
	Srid   *int
}

type FlagsForCommandGenerate struct {
	LoggerFlags
	Output        *string
	Depth         *int
	PointsPerTile *int
	RefineMode    *string
	Compress      *bool
}

type FlagsForCommandSimulate struct {
	StreamerFlags
	TilesetFlags
	LoggerFlags
	Frames    *int
	Distance  *float64
	Approach  *float64
	FovY      *float64
	Width     *int
	Height    *int
	TimeoutMs *int
}

func ParseFlagsGlobal() FlagsGlobal {
	help := defineBoolFlag("help", "h", false, "Displays this help.")
	version := defineBoolFlag("version", "v", false, "Displays the version of cesium streamer.")

	flag.Parse()

	return FlagsGlobal{
		Help:    help,
		Version: version,
	}
}

func defineStreamerFlags(flagCommand *flag.FlagSet) StreamerFlags {
	return StreamerFlags{
		Config:                          defineStringFlagCommand(flagCommand, "config", "c", "", "Optional yaml configuration file. Values set in the file override the command line defaults."),
		MaximumScreenSpaceError:         defineFloat64FlagCommand(flagCommand, "sse", "", 16, "Maximum screen space error in pixels before a tile is refined."),
		EnableCompressedGeometry:        defineBoolFlagCommand(flagCommand, "compressed-geometry", "", true, "Decodes compressed geometry payloads when present."),
		FillEmptyDataInMissingAttribute: defineBoolFlagCommand(flagCommand, "fill-missing", "", false, "Zero-fills attributes declared by a technique but missing from the mesh."),
		CacheBudgetBytes:                defineInt64FlagCommand(flagCommand, "cache-budget", "", 512*1024*1024, "Decoded content cache budget in bytes."),
		MaxConcurrentRequests:           defineIntFlagCommand(flagCommand, "max-requests", "", 6, "Maximum number of concurrent content requests."),
		DecodeWorkers:                   defineIntFlagCommand(flagCommand, "decode-workers", "", 0, "Number of decode workers. 0 uses one worker per cpu."),
	}
}

func defineTilesetFlags(flagCommand *flag.FlagSet) TilesetFlags {
	return TilesetFlags{
		Input:        defineStringFlagCommand(flagCommand, "input", "i", "", "Tileset document url or path (tileset.json, I3S layer, S3M scp)."),
		HeightOffset: defineFloat64FlagCommand(flagCommand, "height-offset", "z", 0, "Vertical offset in meters applied to the tileset root."),
		LonOffset:    defineFloat64FlagCommand(flagCommand, "lon-offset", "", 0, "Longitude offset in degrees applied to the tileset root."),
		LatOffset:    defineFloat64FlagCommand(flagCommand, "lat-offset", "", 0, "Latitude offset in degrees applied to the tileset root."),
		URLPrefix:    defineStringFlagCommand(flagCommand, "url-prefix", "", "", "Prefix prepended to every request url."),
		Srid:         defineIntFlagCommand(flagCommand, "srid", "e", 0, "EPSG code of the dataset when the document does not declare one."),
	}
}

func defineLoggerFlags(flagCommand *flag.FlagSet) LoggerFlags {
	return LoggerFlags{
		Silent:       defineBoolFlagCommand(flagCommand, "silent", "s", false, "Use to suppress all the non-error messages."),
		LogTimestamp: defineBoolFlagCommand(flagCommand, "timestamp", "t", false, "Adds timestamp to log messages."),
		Help:         defineBoolFlagCommand(flagCommand, "help", "h", false, "Displays this help."),
	}
}

func ParseFlagsForCommandInspect(args []string) FlagsForCommandInspect {
	glog.Infoln(FmtJSONString(args))

	flagCommand := flag.NewFlagSet("command-inspect", flag.ExitOnError)
	flags := FlagsForCommandInspect{
		TilesetFlags: defineTilesetFlags(flagCommand),
		LoggerFlags:  defineLoggerFlags(flagCommand),
		Depth:        defineIntFlagCommand(flagCommand, "depth", "d", 8, "Maximum depth of the printed tree. External tilesets are expanded up to this depth."),
	}

	flagCommand.Parse(args)
	return flags
}

func ParseFlagsForCommandDecode(args []string) FlagsForCommandDecode {
	glog.Infoln(FmtJSONString(args))

	flagCommand := flag.NewFlagSet("command-decode", flag.ExitOnError)
	flags := FlagsForCommandDecode{
		StreamerFlags:    defineStreamerFlags(flagCommand),
		LoggerFlags:      defineLoggerFlags(flagCommand),
		Input:            defineStringFlagCommand(flagCommand, "input", "i", "", "Specifies the input tile file or folder."),
		Format:           defineStringFlagCommand(flagCommand, "format", "", "", "Format hint (b3dm, i3dm, pnts, cmpt, glb, i3s, s3m). Detected from the file when empty."),
		FolderProcessing: defineBoolFlagCommand(flagCommand, "folder", "f", false, "Decodes all tile files of the input folder."),
		Recursive:        defineBoolFlagCommand(flagCommand, "recursive", "r", false, "Enables recursive lookup for tile files inside the subfolders"),
	}

	flagCommand.Parse(args)
	return flags
}

func ParseFlagsForCommandExport(args []string) FlagsForCommandExport {
	glog.Infoln(FmtJSONString(args))

	flagCommand := flag.NewFlagSet("command-export", flag.ExitOnError)
	flags := FlagsForCommandExport{
		StreamerFlags: defineStreamerFlags(flagCommand),
		LoggerFlags:   defineLoggerFlags(flagCommand),
		Input:         defineStringFlagCommand(flagCommand, "input", "i", "", "Specifies the input tile file."),
		Output:        defineStringFlagCommand(flagCommand, "output", "o", "", "Specifies the output ply file."),
		Format:        defineStringFlagCommand(flagCommand, "format", "", "", "Format hint. Detected from the file when empty."),
		Srid:          defineIntFlagCommand(flagCommand, "srid", "e", 0, "Reprojects exported positions from ECEF to the given EPSG code. 0 keeps the tile coordinates."),
	}

	flagCommand.Parse(args)
	return flags
}

func ParseFlagsForCommandGenerate(args []string) FlagsForCommandGenerate {
	glog.Infoln(FmtJSONString(args))

	flagCommand := flag.NewFlagSet("command-generate", flag.ExitOnError)
	flags := FlagsForCommandGenerate{
		LoggerFlags:   defineLoggerFlags(flagCommand),
		Output:        defineStringFlagCommand(flagCommand, "output", "o", "", "Specifies the output folder where to write the tileset data."),
		Depth:         defineIntFlagCommand(flagCommand, "depth", "d", 3, "Depth of the generated quadtree."),
		PointsPerTile: defineIntFlagCommand(flagCommand, "points", "p", 1000, "Number of points per generated tile."),
		RefineMode:    defineStringFlagCommand(flagCommand, "refine-mode", "", "REPLACE", "Type of refine mode, can be 'ADD' or 'REPLACE'."),
		Compress:      defineBoolFlagCommand(flagCommand, "compress", "", false, "Encodes the leaf geometry with the qdeflate codec."),
	}

	flagCommand.Parse(args)
	return flags
}

func ParseFlagsForCommandSimulate(args []string) FlagsForCommandSimulate {
	glog.Infoln(FmtJSONString(args))

	flagCommand := flag.NewFlagSet("command-simulate", flag.ExitOnError)
	flags := FlagsForCommandSimulate{
		StreamerFlags: defineStreamerFlags(flagCommand),
		TilesetFlags:  defineTilesetFlags(flagCommand),
		LoggerFlags:   defineLoggerFlags(flagCommand),
		Frames:        defineIntFlagCommand(flagCommand, "frames", "n", 60, "Number of frames to simulate."),
		Distance:      defineFloat64FlagCommand(flagCommand, "distance", "", 0, "Initial camera distance from the root bounding volume center. 0 uses 3 times its radius."),
		Approach:      defineFloat64FlagCommand(flagCommand, "approach", "", 0.95, "Factor applied to the camera distance at each frame."),
		FovY:          defineFloat64FlagCommand(flagCommand, "fovy", "", 60, "Vertical field of view in degrees."),
		Width:         defineIntFlagCommand(flagCommand, "width", "", 1920, "Viewport width in pixels."),
		Height:        defineIntFlagCommand(flagCommand, "height", "", 1080, "Viewport height in pixels."),
		TimeoutMs:     defineIntFlagCommand(flagCommand, "frame-time", "", 16, "Milliseconds to wait between frames."),
	}

	flagCommand.Parse(args)
	return flags
}

func defineBoolFlag(name string, shortHand string, defaultValue bool, usage string) *bool {
	var output bool
	flag.BoolVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flag.BoolVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}
	return &output
}

func defineStringFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue string, usage string) *string {
	var output string
	flagCommand.StringVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.StringVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}

	return &output
}

func defineIntFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue int, usage string) *int {
	var output int
	flagCommand.IntVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.IntVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}

	return &output
}

func defineInt64FlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue int64, usage string) *int64 {
	var output int64
	flagCommand.Int64Var(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.Int64Var(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}

	return &output
}

func defineFloat64FlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue float64, usage string) *float64 {
	var output float64
	flagCommand.Float64Var(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.Float64Var(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}
	return &output
}

func defineBoolFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue bool, usage string) *bool {
	var output bool
	flagCommand.BoolVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.BoolVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}
	return &output
}
