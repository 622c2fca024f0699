package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	FFmpeg  FFmpegConfig  `yaml:"ffmpeg" toml:"ffmpeg"`
	Export  ExportConfig  `yaml:"export" toml:"export"`
	Preview PreviewConfig `yaml:"preview" toml:"preview"`
	Render  RenderConfig  `yaml:"render" toml:"render"`
	Audio   AudioConfig   `yaml:"audio" toml:"audio"`
	Server  ServerConfig  `yaml:"server" toml:"server"`

	// path the configuration was read from, empty for defaults
	source string
}

type FFmpegConfig struct {
	BinaryPath  string `yaml:"binary_path" toml:"binary_path"`
	ProbePath   string `yaml:"probe_path" toml:"probe_path"`
	Threads     int    `yaml:"threads" toml:"threads"`
	HWAccel     string `yaml:"hwaccel" toml:"hwaccel"`
	Preset      string `yaml:"preset" toml:"preset"`
	VAAPIDevice string `yaml:"vaapi_device" toml:"vaapi_device"`
}

type ExportConfig struct {
	Width           int     `yaml:"width" toml:"width"`
	Height          int     `yaml:"height" toml:"height"`
	FPS             float64 `yaml:"fps" toml:"fps"`
	Bitrate         int64   `yaml:"bitrate" toml:"bitrate"`
	YieldEvery      int     `yaml:"yield_every" toml:"yield_every"`
	DecodeTolerance float64 `yaml:"decode_tolerance" toml:"decode_tolerance"`
	OutputDir       string  `yaml:"output_dir" toml:"output_dir"`
	TempDir         string  `yaml:"temp_dir" toml:"temp_dir"`
}

type PreviewConfig struct {
	FPS            float64 `yaml:"fps" toml:"fps"`
	MaxWidth       int     `yaml:"max_width" toml:"max_width"`
	ScrubTolerance float64 `yaml:"scrub_tolerance" toml:"scrub_tolerance"`
	PlayTolerance  float64 `yaml:"play_tolerance" toml:"play_tolerance"`
}

type RenderConfig struct {
	FontsDir    string `yaml:"fonts_dir" toml:"fonts_dir"`
	HighQuality bool   `yaml:"high_quality" toml:"high_quality"`
}

type AudioConfig struct {
	SampleRate int   `yaml:"sample_rate" toml:"sample_rate"`
	Channels   int   `yaml:"channels" toml:"channels"`
	FrameSize  int   `yaml:"frame_size" toml:"frame_size"`
	Bitrate    int64 `yaml:"bitrate" toml:"bitrate"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr" toml:"addr"`
	MaxJobs int    `yaml:"max_jobs" toml:"max_jobs"`
	// MediaRoot confines request sources; empty trusts every source
	MediaRoot   string `yaml:"media_root" toml:"media_root"`
	AllowRemote bool   `yaml:"allow_remote" toml:"allow_remote"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	cfg.source = path
	return cfg, nil
}

// Source returns the file the configuration came from, empty for defaults
func (c *Config) Source() string {
	return c.source
}

// Validate rejects values no component can work with
func (c *Config) Validate() error {
	switch c.FFmpeg.HWAccel {
	case "", "auto", "none", "videotoolbox", "nvenc", "vaapi":
	default:
		return fmt.Errorf("unknown hwaccel %q", c.FFmpeg.HWAccel)
	}
	if c.Export.FPS < 0 || c.Preview.FPS < 0 {
		return fmt.Errorf("fps must not be negative")
	}
	if c.Export.Width < 0 || c.Export.Height < 0 {
		return fmt.Errorf("export size must not be negative")
	}
	if c.Audio.Channels < 0 || c.Audio.SampleRate < 0 {
		return fmt.Errorf("audio layout must not be negative")
	}
	return nil
}

// Save writes configuration to file, as TOML when the extension says so
func (c *Config) Save(path string) error {
	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(c); err != nil {
			return err
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			Threads:    0,
			HWAccel:    "auto",
			Preset:     "medium",
		},
		Export: ExportConfig{
			FPS:             30,
			Bitrate:         0,
			YieldEvery:      10,
			DecodeTolerance: 0.03,
			OutputDir:       "./exports",
		},
		Preview: PreviewConfig{
			FPS:            30,
			MaxWidth:       960,
			ScrubTolerance: 0.05,
			PlayTolerance:  0.2,
		},
		Audio: AudioConfig{
			SampleRate: 48000,
			Channels:   2,
			FrameSize:  1024,
			Bitrate:    192000,
		},
		Server: ServerConfig{
			Addr:    ":8080",
			MaxJobs: 2,
		},
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func findConfigFile() string {
	candidates := []string{
		"./framecut.yaml",
		"./framecut.yml",
		"./framecut.toml",
		filepath.Join(os.Getenv("HOME"), ".framecut", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
