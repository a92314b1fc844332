package tiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRefineMode(t *testing.T) {
	assert.Equal(t, RefineModeAdd, ParseRefineMode(" add"))
	assert.Equal(t, RefineModeReplace, ParseRefineMode("Replace "))
	assert.Equal(t, RefineMode(""), ParseRefineMode("refine"))
	assert.Equal(t, "", RefineMode("x").String())
}

func TestParseConfig_OverlaysOnlySetValues(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
maximumScreenSpaceError: 32
fillEmptyDataInMissingAttribute: true
services:
  - url: http://localhost/dayanta/tileset.json
    heightOffset: -420
    coordOffset: [0.001, 0]
`))
	require.NoError(t, err)

	opts := NewStreamerOptions()
	cfg.Apply(opts)
	assert.Equal(t, 32.0, opts.MaximumScreenSpaceError)
	assert.True(t, opts.FillEmptyDataInMissingAttribute)
	assert.True(t, opts.EnableCompressedGeometry)
	assert.Equal(t, DefaultCacheBudgetBytes, opts.CacheBudgetBytes)
	require.NoError(t, opts.Validate())

	services, err := cfg.TilesetOptions()
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, -420.0, services[0].HeightOffset)
	assert.Equal(t, [2]float64{0.001, 0}, services[0].CoordOffset)
	assert.True(t, services[0].HasOffset())
	assert.Equal(t, 32.0, opts.ScreenSpaceErrorFor(services[0]))
}

func TestParseConfig_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("maximumScreenSpaceErorr: 3\n"))
	assert.Error(t, err)
}

func TestConfig_InvalidCoordOffset(t *testing.T) {
	cfg, err := ParseConfig([]byte("services:\n  - url: a.json\n    coordOffset: [1]\n"))
	require.NoError(t, err)
	_, err = cfg.TilesetOptions()
	assert.Error(t, err)
}

func TestStreamerOptions_Validate(t *testing.T) {
	opts := NewStreamerOptions()
	opts.MaxConcurrentRequests = 0
	assert.Error(t, opts.Validate())

	opts = NewStreamerOptions()
	opts.MaximumScreenSpaceError = 0
	assert.Error(t, opts.Validate())

	copied := NewStreamerOptions().Copy()
	copied.DecodeWorkers = 3
	assert.Equal(t, 3, copied.NumDecodeWorkers())
}
