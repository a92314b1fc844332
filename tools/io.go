package tools

import (
	"os"
	"path/filepath"
	"strings"
)

func CreateDirectoryIfDoesNotExist(directory string) error {
	if _, err := os.Stat(directory); os.IsNotExist(err) {
		return os.MkdirAll(directory, 0777)
	}
	return nil
}

// Returns the absolute form of a local tileset path. Urls are returned untouched.
func NormalizeInput(input string) string {
	if input == "" || strings.Contains(input, "://") || strings.HasPrefix(input, "data:") {
		return input
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		return input
	}
	return abs
}
