package tools

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardFileFinder_FolderProcessing(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, CreateDirectoryIfDoesNotExist(sub))
	for _, name := range []string{
		filepath.Join(root, "a.b3dm"),
		filepath.Join(root, "b.PNTS"),
		filepath.Join(root, "tileset.json"),
		filepath.Join(sub, "c.cmpt"),
	} {
		require.NoError(t, os.WriteFile(name, []byte{0}, 0644))
	}

	finder := NewStandardFileFinder()

	files := finder.GetTileFilesToProcess(root, true, false)
	sort.Strings(files)
	assert.Equal(t, []string{filepath.Join(root, "a.b3dm"), filepath.Join(root, "b.PNTS")}, files)

	files = finder.GetTileFilesToProcess(root, true, true)
	assert.Len(t, files, 3)

	files = finder.GetTileFilesToProcess("x.i3dm", false, false)
	assert.Equal(t, []string{"x.i3dm"}, files)
}
