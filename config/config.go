// Package config defines the configuration of a dataset assembly session.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"sort"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/posegt/posegt/dataset"
	"github.com/posegt/posegt/skeleton"
)

// Split names every config has unless overridden.
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
)

// DefaultSplits are the camera indices of the MPI-INF-3DHP training and validation splits.
func DefaultSplits() map[string][]int {
	return map[string][]int{
		SplitTrain:      {0, 1, 2, 3, 4, 5},
		SplitValidation: {6, 7},
	}
}

// Config describes a dataset assembly session.
type Config struct {
	Calibration string           `json:"calibration"`
	Annotations []string         `json:"annotations"`
	ImageRoot   string           `json:"image_root,omitempty"`
	Splits      map[string][]int `json:"splits,omitempty"`

	TPoseHeight          float64 `json:"tpose_height_m,omitempty"`
	MetricScale          float64 `json:"metric_scale,omitempty"`
	MaxReprojectionError float64 `json:"max_reprojection_error_px,omitempty"`
	RefineExtrinsics     bool    `json:"refine_extrinsics,omitempty"`
	CheckImages          bool    `json:"check_images,omitempty"`
	CropMargin           float64 `json:"crop_margin_px,omitempty"`
	Workers              int     `json:"workers,omitempty"`

	// Rig overrides the capture rig tables, see DecodeRig.
	Rig    map[string]interface{} `json:"rig,omitempty"`
	Output OutputConfig           `json:"output"`
	Log    LogConfig              `json:"log"`

	// ConfigFilePath is the file the config was read from, if any.
	ConfigFilePath string `json:"-"`
}

// OutputConfig says where assembled runs are stored.
type OutputConfig struct {
	SQLite string `json:"sqlite,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	File  string `json:"file,omitempty"`
	Debug bool   `json:"debug,omitempty"`
}

// Read reads a config from the given file, expanding environment variables. Relative paths in the config are
// resolved against the file's directory.
func Read(path string) (*Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromReader(path, bytes.NewReader(buf))
}

// FromReader reads a config from r. originalPath is the file r was read from, or empty.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}
	if originalPath != "" {
		cfg.resolvePaths(filepath.Dir(originalPath))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) resolvePaths(dir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	cfg.Calibration = resolve(cfg.Calibration)
	for i, p := range cfg.Annotations {
		cfg.Annotations[i] = resolve(p)
	}
	cfg.ImageRoot = resolve(cfg.ImageRoot)
	cfg.Output.SQLite = resolve(cfg.Output.SQLite)
	cfg.Log.File = resolve(cfg.Log.File)
}

func (cfg *Config) applyDefaults() {
	if cfg.Splits == nil {
		cfg.Splits = DefaultSplits()
	}
	if cfg.TPoseHeight == 0 {
		cfg.TPoseHeight = skeleton.DefaultHeight
	}
	if cfg.MetricScale == 0 {
		cfg.MetricScale = skeleton.MetricScale
	}
	if cfg.CropMargin == 0 {
		cfg.CropMargin = dataset.CropMargin
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Calibration == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "calibration")
	}
	if len(cfg.Annotations) == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "annotations")
	}
	for name, cameras := range cfg.Splits {
		if len(cameras) == 0 {
			return goutils.NewConfigValidationError(path, errors.Errorf("split %q has no cameras", name))
		}
		for _, c := range cameras {
			if c < 0 {
				return goutils.NewConfigValidationError(path, errors.Errorf("split %q has negative camera %d", name, c))
			}
		}
	}
	if !(cfg.TPoseHeight > 0) {
		return goutils.NewConfigValidationError(path, errors.New("tpose_height_m must be positive"))
	}
	if !(cfg.MetricScale > 0) {
		return goutils.NewConfigValidationError(path, errors.New("metric_scale must be positive"))
	}
	if cfg.MaxReprojectionError < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_reprojection_error_px cannot be negative"))
	}
	if cfg.CropMargin < 0 {
		return goutils.NewConfigValidationError(path, errors.New("crop_margin_px cannot be negative"))
	}
	if cfg.Workers < 0 {
		return goutils.NewConfigValidationError(path, errors.New("workers cannot be negative"))
	}
	if _, err := DecodeRig(cfg.Rig); err != nil {
		return goutils.NewConfigValidationError(joinPath(path, "rig"), err)
	}
	return nil
}

// SplitNames returns the configured split names in sorted order.
func (cfg *Config) SplitNames() []string {
	names := make([]string, 0, len(cfg.Splits))
	for name := range cfg.Splits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SplitCameras returns the cameras of the named split.
func (cfg *Config) SplitCameras(name string) ([]int, error) {
	cameras, ok := cfg.Splits[name]
	if !ok {
		return nil, errors.Errorf("no split named %q, have %v", name, cfg.SplitNames())
	}
	return cameras, nil
}

// AssemblerOptions returns the dataset options the config describes.
func (cfg *Config) AssemblerOptions() (dataset.Options, error) {
	rig, err := DecodeRig(cfg.Rig)
	if err != nil {
		return dataset.Options{}, err
	}
	opts := dataset.DefaultOptions()
	opts.Joints = rig.Joints
	opts.Topology = rig.Topology
	opts.TPoseHeight = cfg.TPoseHeight
	opts.MetricScale = cfg.MetricScale
	opts.MaxReprojectionError = cfg.MaxReprojectionError
	opts.RefineExtrinsics = cfg.RefineExtrinsics
	opts.CheckImages = cfg.CheckImages
	opts.ImageRoot = cfg.ImageRoot
	opts.CropMargin = cfg.CropMargin
	if cfg.Workers > 0 {
		opts.Workers = cfg.Workers
	}
	return opts, nil
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
