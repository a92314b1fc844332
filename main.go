/*
 * This file is part of the Go Cesium Point Cloud Tiler distribution (https://github.com/mfbonfigli/gocesiumtiler).
 * Copyright (c) 2019 Massimo Federico Bonfigli - m.federico.bonfigli@gmail.com
 *
 * This program is free software; you can redistribute it and/or modify it
 * under the terms of the GNU Lesser General Public License Version 3 as
 * published by the Free Software Foundation;
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
 * Lesser General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General Public License
 * along with this program. If not, see <http://www.gnu.org/licenses/>.
 *
 * This software also uses third party components. You can find information
 * on their credits and licensing in the file LICENSE-3RD-PARTIES.md that
 * you should have received togheter with the source code.
 */

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/ecopia-map/cesium_streamer/pkg"
	"github.com/ecopia-map/cesium_streamer/pkg/algorithm_manager/std_algorithm_manager"
	"github.com/ecopia-map/cesium_streamer/tools"
	"github.com/golang/glog"
)

const VERSION = "0.4.0"

const logo = `
  ___ ___  ___(_)_   _ _ __ ___    ___| |_ _ __ ___  __ _ _ __ ___   ___ _ __
 / __/ _ \/ __| | | | | '_ ' _ \  / __| __| '__/ _ \/ _' | '_ ' _ \ / _ \ '__|
| (_|  __/\__ \ | |_| | | | | | | \__ \ |_| | |  __/ (_| | | | | | |  __/ |
 \___\___||___/_|\__,_|_| |_| |_| |___/\__|_|  \___|\__,_|_| |_| |_|\___|_|
  A 3D Tiles, I3S and S3M streaming engine written in golang - YYYY
`

const commands = "[inspect|decode|export|generate|simulate]"

func main() {
	defer glog.Flush()

	flagsGlobal := tools.ParseFlagsGlobal()
	if *flagsGlobal.Help {
		showHelp()
		return
	}
	if *flagsGlobal.Version {
		printVersion()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		glog.Fatal("Please specify a subcommand " + commands + ".")
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case tools.CommandInspect:
		mainCommandInspect(args)
	case tools.CommandDecode, tools.CommandExport:
		mainCommandDecode(cmd, args)
	case tools.CommandGenerate:
		mainCommandGenerate(args)
	case tools.CommandSimulate:
		mainCommandSimulate(args)
	default:
		glog.Fatalf("Unrecognized command [%q]. Command must be one of %s", cmd, commands)
	}
}

func mainCommandInspect(args []string) {
	flags := tools.ParseFlagsForCommandInspect(args)
	if *flags.Help {
		showHelp()
		return
	}
	setupLogger(flags.LoggerFlags)

	tilesetOpts := tilesetOptionsFromFlags(flags.TilesetFlags, nil)
	opts := &tiler.CommandOptions{
		Command:  tools.CommandInspect,
		Input:    tilesetOpts.URL,
		Depth:    *flags.Depth,
		Streamer: tiler.NewStreamerOptions(),
		Tileset:  tilesetOpts,
	}
	if opts.Input == "" {
		glog.Fatal("Error parsing input parameters: input tileset is required")
	}

	algorithmManager := std_algorithm_manager.NewAlgorithmManager(opts)
	run(pkg.NewInspector(nil, algorithmManager), opts, "inspect")
}

func mainCommandDecode(cmd string, args []string) {
	var opts *tiler.CommandOptions
	var loggerFlags tools.LoggerFlags
	if cmd == tools.CommandExport {
		flags := tools.ParseFlagsForCommandExport(args)
		loggerFlags = flags.LoggerFlags
		opts = &tiler.CommandOptions{
			Command:  cmd,
			Input:    *flags.Input,
			Output:   *flags.Output,
			Format:   *flags.Format,
			Streamer: streamerOptionsFromFlags(flags.StreamerFlags, loadConfig(flags.StreamerFlags)),
			Tileset:  &tiler.TilesetOptions{Srid: *flags.Srid},
		}
	} else {
		flags := tools.ParseFlagsForCommandDecode(args)
		loggerFlags = flags.LoggerFlags
		opts = &tiler.CommandOptions{
			Command:          cmd,
			Input:            *flags.Input,
			Format:           *flags.Format,
			FolderProcessing: *flags.FolderProcessing,
			Recursive:        *flags.Recursive,
			Streamer:         streamerOptionsFromFlags(flags.StreamerFlags, loadConfig(flags.StreamerFlags)),
		}
	}
	if *loggerFlags.Help {
		showHelp()
		return
	}
	setupLogger(loggerFlags)

	if _, err := os.Stat(opts.Input); os.IsNotExist(err) {
		glog.Fatal("Error parsing input parameters: input file/folder not found")
	}

	algorithmManager := std_algorithm_manager.NewAlgorithmManager(opts)
	run(pkg.NewDecoder(tools.NewStandardFileFinder(), algorithmManager), opts, cmd)
}

func mainCommandGenerate(args []string) {
	flags := tools.ParseFlagsForCommandGenerate(args)
	if *flags.Help {
		showHelp()
		return
	}
	setupLogger(flags.LoggerFlags)

	opts := &tiler.CommandOptions{
		Command:       tools.CommandGenerate,
		Output:        *flags.Output,
		Depth:         *flags.Depth,
		PointsPerTile: *flags.PointsPerTile,
		Compress:      *flags.Compress,
		RefineMode:    tiler.ParseRefineMode(*flags.RefineMode),
	}
	if msg, ok := validateOptionsForCommandGenerate(opts); !ok {
		glog.Fatal("Error parsing input parameters: " + msg)
	}

	algorithmManager := std_algorithm_manager.NewAlgorithmManager(opts)
	run(pkg.NewGenerator(algorithmManager), opts, "generation")
}

func validateOptionsForCommandGenerate(opts *tiler.CommandOptions) (string, bool) {
	if opts.Output == "" {
		return "output folder is required", false
	}
	if err := tools.CreateDirectoryIfDoesNotExist(opts.Output); err != nil {
		return err.Error(), false
	}
	if opts.Depth < 0 || opts.Depth > 8 {
		return "depth should be between 0 and 8", false
	}
	if opts.RefineMode == "" {
		return "refine-mode should be either ADD or REPLACE", false
	}
	return "", true
}

func mainCommandSimulate(args []string) {
	flags := tools.ParseFlagsForCommandSimulate(args)
	if *flags.Help {
		showHelp()
		return
	}
	setupLogger(flags.LoggerFlags)

	cfg := loadConfig(flags.StreamerFlags)
	opts := &tiler.CommandOptions{
		Command:  tools.CommandSimulate,
		Streamer: streamerOptionsFromFlags(flags.StreamerFlags, cfg),
		Tileset:  tilesetOptionsFromFlags(flags.TilesetFlags, cfg),
		Simulation: &tiler.SimulationOptions{
			Frames:     *flags.Frames,
			Distance:   *flags.Distance,
			Approach:   *flags.Approach,
			FovY:       *flags.FovY,
			Width:      *flags.Width,
			Height:     *flags.Height,
			FrameDelay: time.Duration(*flags.TimeoutMs) * time.Millisecond,
		},
	}
	opts.Input = opts.Tileset.URL
	if opts.Input == "" {
		glog.Fatal("Error parsing input parameters: input tileset is required")
	}
	if opts.Simulation.Approach <= 0 || opts.Simulation.Width <= 0 || opts.Simulation.Height <= 0 {
		glog.Fatal("Error parsing input parameters: approach, width and height must be > 0")
	}

	algorithmManager := std_algorithm_manager.NewAlgorithmManager(opts)
	run(pkg.NewSimulator(nil, algorithmManager), opts, "simulation")
}

func loadConfig(flags tools.StreamerFlags) *tiler.ConfigFile {
	if *flags.Config == "" {
		return nil
	}
	cfg, err := tiler.LoadConfigFile(*flags.Config)
	if err != nil {
		glog.Fatal(err)
	}
	return cfg
}

// Builds the streamer options from the flags, the config file values win over the flag defaults
func streamerOptionsFromFlags(flags tools.StreamerFlags, cfg *tiler.ConfigFile) *tiler.StreamerOptions {
	opts := &tiler.StreamerOptions{
		MaximumScreenSpaceError:         *flags.MaximumScreenSpaceError,
		EnableCompressedGeometry:        *flags.EnableCompressedGeometry,
		FillEmptyDataInMissingAttribute: *flags.FillEmptyDataInMissingAttribute,
		CacheBudgetBytes:                *flags.CacheBudgetBytes,
		MaxConcurrentRequests:           *flags.MaxConcurrentRequests,
		DecodeWorkers:                   *flags.DecodeWorkers,
	}
	if cfg != nil {
		cfg.Apply(opts)
	}
	if err := opts.Validate(); err != nil {
		glog.Fatal("Error parsing input parameters: ", err)
	}
	return opts
}

// Without an input flag the first service of the config file is streamed
func tilesetOptionsFromFlags(flags tools.TilesetFlags, cfg *tiler.ConfigFile) *tiler.TilesetOptions {
	if *flags.Input == "" && cfg != nil {
		services, err := cfg.TilesetOptions()
		if err != nil {
			glog.Fatal(err)
		}
		if len(services) > 0 {
			if len(services) > 1 {
				glog.Warningf("%d services configured, streaming %s only", len(services), services[0].URL)
			}
			return services[0]
		}
	}
	return &tiler.TilesetOptions{
		URL:          tools.NormalizeInput(*flags.Input),
		HeightOffset: *flags.HeightOffset,
		CoordOffset:  [2]float64{*flags.LonOffset, *flags.LatOffset},
		URLPrefix:    *flags.URLPrefix,
		Srid:         *flags.Srid,
	}
}

func setupLogger(flags tools.LoggerFlags) {
	if *flags.Silent {
		tools.DisableLogger()
	} else {
		printLogo()
	}
	if !*flags.LogTimestamp {
		tools.DisableLoggerTimestamp()
	}
}

func run(command tiler.ICommand, opts *tiler.CommandOptions, name string) {
	defer timeTrack(time.Now(), name)
	if err := command.RunCommand(opts); err != nil {
		glog.Fatal("Error during "+name+": ", err)
	}
	tools.LogOutput(strings.ToUpper(name[:1]) + name[1:] + " completed")
}

func timeTrack(start time.Time, name string) {
	elapsed := time.Since(start)
	tools.LogOutput(fmt.Sprintf("%s took %s", name, elapsed))
}

func printLogo() {
	fmt.Println(strings.ReplaceAll(logo, "YYYY", strconv.Itoa(time.Now().Year())))
}

func showHelp() {
	printLogo()
	fmt.Println("***")
	fmt.Println("cesium_streamer loads 3D Tiles, I3S and S3M datasets, selects the tiles to draw for a camera and decodes their contents")
	printVersion()
	fmt.Println("***")
	fmt.Println("")
	fmt.Println("Usage: cesium_streamer " + commands + " [flags]")
	fmt.Println("Command line flags: ")
	flag.CommandLine.SetOutput(os.Stdout)
	flag.PrintDefaults()
}

func printVersion() {
	fmt.Println("v." + VERSION)
}
