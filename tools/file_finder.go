package tools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
)

// Extensions of the tile content files recognized by the decode command
var TileFileExtensions = map[string]bool{
	".b3dm": true,
	".i3dm": true,
	".pnts": true,
	".cmpt": true,
	".glb":  true,
	".s3mb": true,
	".s3m":  true,
	".bin":  true,
}

type FileFinder interface {
	GetTileFilesToProcess(input string, folderProcessing bool, recursive bool) []string
}

type StandardFileFinder struct{}

func NewStandardFileFinder() FileFinder {
	return &StandardFileFinder{}
}

func (f *StandardFileFinder) GetTileFilesToProcess(input string, folderProcessing bool, recursive bool) []string {
	// If folder processing is not enabled the tile file is given by -input flag, otherwise look for tiles in -input folder
	// eventually excluding nested folders if Recursive flag is disabled
	if !folderProcessing {
		return []string{input}
	}

	return f.getTileFilesFromInputFolder(input, recursive)
}

func (f *StandardFileFinder) getTileFilesFromInputFolder(input string, recursive bool) []string {
	var tileFiles = make([]string, 0)

	baseInfo, err := os.Stat(input)
	if err != nil {
		glog.Errorln("cannot stat input folder:", err)
		return tileFiles
	}
	err = filepath.Walk(
		input,
		func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() && !recursive && !os.SameFile(info, baseInfo) {
				return filepath.SkipDir
			} else if !info.IsDir() {
				if TileFileExtensions[strings.ToLower(filepath.Ext(info.Name()))] {
					tileFiles = append(tileFiles, path)
				}
			}
			return nil
		},
	)

	if err != nil {
		glog.Fatal(err)
	}

	return tileFiles
}
