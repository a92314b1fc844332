package tiler

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigFile mirrors the streamer yaml configuration file.
// Unknown keys are rejected so that typos do not silently fall back to defaults.
type ConfigFile struct {
	MaximumScreenSpaceError         *float64        `yaml:"maximumScreenSpaceError"`
	EnableCompressedGeometry        *bool           `yaml:"enableCompressedGeometry"`
	FillEmptyDataInMissingAttribute *bool           `yaml:"fillEmptyDataInMissingAttribute"`
	CacheBudgetBytes                *int64          `yaml:"cacheBudgetBytes"`
	MaxConcurrentRequests           *int            `yaml:"maxConcurrentRequests"`
	DecodeWorkers                   *int            `yaml:"decodeWorkers"`
	Services                        []ServiceConfig `yaml:"services"`
}

type ServiceConfig struct {
	URL                     string    `yaml:"url"`
	MaximumScreenSpaceError float64   `yaml:"maximumScreenSpaceError"`
	HeightOffset            float64   `yaml:"heightOffset"`
	CoordOffset             []float64 `yaml:"coordOffset"`
	URLPrefix               string    `yaml:"urlPrefix"`
	Srid                    int       `yaml:"srid"`
}

func ParseConfig(data []byte) (*ConfigFile, error) {
	var cfg ConfigFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func LoadConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// Overlays the values set in the config file on top of opts
func (cfg *ConfigFile) Apply(opts *StreamerOptions) {
	if cfg.MaximumScreenSpaceError != nil {
		opts.MaximumScreenSpaceError = *cfg.MaximumScreenSpaceError
	}
	if cfg.EnableCompressedGeometry != nil {
		opts.EnableCompressedGeometry = *cfg.EnableCompressedGeometry
	}
	if cfg.FillEmptyDataInMissingAttribute != nil {
		opts.FillEmptyDataInMissingAttribute = *cfg.FillEmptyDataInMissingAttribute
	}
	if cfg.CacheBudgetBytes != nil {
		opts.CacheBudgetBytes = *cfg.CacheBudgetBytes
	}
	if cfg.MaxConcurrentRequests != nil {
		opts.MaxConcurrentRequests = *cfg.MaxConcurrentRequests
	}
	if cfg.DecodeWorkers != nil {
		opts.DecodeWorkers = *cfg.DecodeWorkers
	}
}

// Converts the service entries to TilesetOptions
func (cfg *ConfigFile) TilesetOptions() ([]*TilesetOptions, error) {
	result := make([]*TilesetOptions, 0, len(cfg.Services))
	for i, s := range cfg.Services {
		if s.URL == "" {
			return nil, fmt.Errorf("services[%d]: url is required", i)
		}
		ts := &TilesetOptions{
			URL:                     s.URL,
			MaximumScreenSpaceError: s.MaximumScreenSpaceError,
			HeightOffset:            s.HeightOffset,
			URLPrefix:               s.URLPrefix,
			Srid:                    s.Srid,
		}
		switch len(s.CoordOffset) {
		case 0:
		case 2:
			ts.CoordOffset = [2]float64{s.CoordOffset[0], s.CoordOffset[1]}
		default:
			return nil, fmt.Errorf("services[%d]: coordOffset must have 2 values, got %d", i, len(s.CoordOffset))
		}
		result = append(result, ts)
	}
	return result, nil
}
