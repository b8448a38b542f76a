// Package config holds the runtime configuration of the posecam display loop.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration
type Config struct {
	Source              SourceConfig   `yaml:"source"`
	Model               ModelConfig    `yaml:"model"`
	ConfidenceThreshold float64        `yaml:"confidence_threshold"`
	SkipInterval        int            `yaml:"skip_interval"`
	Window              WindowConfig   `yaml:"window"`
	Snapshot            SnapshotConfig `yaml:"snapshot"`
	Stream              StreamConfig   `yaml:"stream"`
	StatusOverlay       bool           `yaml:"status_overlay"`
	MetricsAddr         string         `yaml:"metrics_addr"`
	PerfReportInterval  time.Duration  `yaml:"perf_report_interval"`
	Log                 LogConfig      `yaml:"log"`
}

// SourceConfig selects the capture device. Device is a camera index ("0") or a URL/file.
type SourceConfig struct {
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// ModelConfig configures the pose network
type ModelConfig struct {
	Path           string  `yaml:"path"`
	InputSize      int     `yaml:"input_size"` // Downscale hint: square network input
	ScoreThreshold float64 `yaml:"score_threshold"`
	NMSThreshold   float64 `yaml:"nms_threshold"`
}

type WindowConfig struct {
	Title    string `yaml:"title"`
	QuitKey  string `yaml:"quit_key"`
	Disabled bool   `yaml:"disabled"`
}

// SnapshotConfig saves every Nth annotated frame as JPEG. Every == 0 disables it.
type SnapshotConfig struct {
	Dir   string `yaml:"dir"`
	Every int    `yaml:"every"`
}

// StreamConfig publishes annotated frames through ffmpeg. Empty URL disables it.
type StreamConfig struct {
	URL    string `yaml:"url"`
	FPS    int    `yaml:"fps"`
	FFmpeg string `yaml:"ffmpeg"` // ffmpeg binary
}

type LogConfig struct {
	Level   string `yaml:"level"`
	NoColor bool   `yaml:"no_color"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Source: SourceConfig{Device: "0", Width: 1280, Height: 720},
		Model: ModelConfig{
			Path:           "yolov8n-pose.onnx",
			InputSize:      640,
			ScoreThreshold: 0.25,
			NMSThreshold:   0.45,
		},
		ConfidenceThreshold: 0.5,
		SkipInterval:        2,
		Window:              WindowConfig{Title: "posecam", QuitKey: "q"},
		Stream:              StreamConfig{FPS: 30, FFmpeg: "ffmpeg"},
		PerfReportInterval:  15 * time.Second,
		Log:                 LogConfig{Level: "info"},
	}
}

// Load reads a YAML file on top of Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and returns all problems at once
func (c Config) Validate() error {
	var errs []error
	if c.SkipInterval < 1 {
		errs = append(errs, fmt.Errorf("skip_interval must be >= 1, got %d", c.SkipInterval))
	}
	if !inUnitRange(c.ConfidenceThreshold) {
		errs = append(errs, fmt.Errorf("confidence_threshold must be within [0,1], got %v", c.ConfidenceThreshold))
	}
	if c.Source.Device == "" {
		errs = append(errs, errors.New("source.device is required"))
	}
	if c.Source.Width <= 0 || c.Source.Height <= 0 {
		errs = append(errs, fmt.Errorf("source resolution must be positive, got %dx%d", c.Source.Width, c.Source.Height))
	}
	if c.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if c.Model.InputSize <= 0 {
		errs = append(errs, fmt.Errorf("model.input_size must be positive, got %d", c.Model.InputSize))
	}
	if !inUnitRange(c.Model.ScoreThreshold) {
		errs = append(errs, fmt.Errorf("model.score_threshold must be within [0,1], got %v", c.Model.ScoreThreshold))
	}
	if !inUnitRange(c.Model.NMSThreshold) {
		errs = append(errs, fmt.Errorf("model.nms_threshold must be within [0,1], got %v", c.Model.NMSThreshold))
	}
	if len(c.Window.QuitKey) != 1 {
		errs = append(errs, fmt.Errorf("window.quit_key must be a single character, got %q", c.Window.QuitKey))
	}
	if c.Snapshot.Every < 0 {
		errs = append(errs, fmt.Errorf("snapshot.every must be >= 0, got %d", c.Snapshot.Every))
	}
	if c.Snapshot.Every > 0 && c.Snapshot.Dir == "" {
		errs = append(errs, errors.New("snapshot.dir is required when snapshot.every is set"))
	}
	if c.Stream.URL != "" && c.Stream.FPS <= 0 {
		errs = append(errs, fmt.Errorf("stream.fps must be positive, got %d", c.Stream.FPS))
	}
	if c.Window.Disabled && c.Stream.URL == "" && c.Snapshot.Every == 0 {
		errs = append(errs, errors.New("no output enabled: window is disabled and no stream or snapshot is configured"))
	}
	if c.PerfReportInterval < 0 {
		errs = append(errs, fmt.Errorf("perf_report_interval must not be negative, got %v", c.PerfReportInterval))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug|info|warn|error, got %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// inUnitRange rejects NaN along with values outside [0,1]
func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
