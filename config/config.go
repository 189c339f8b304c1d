// Package config loads the settings for the triangle demo from TOML.
package config

import (
	"bytes"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Window    Window    `toml:"window"`
	Frames    Frames    `toml:"frames"`
	Swapchain Swapchain `toml:"swapchain"`
	Shaders   Shaders   `toml:"shaders"`
	Render    Render    `toml:"render"`
	Debug     Debug     `toml:"debug"`
}

type Window struct {
	Title     string `toml:"title"`
	Width     int    `toml:"width"`
	Height    int    `toml:"height"`
	Resizable bool   `toml:"resizable"`
}

type Frames struct {
	// InFlight is how many frames the CPU may record ahead of the GPU.
	InFlight int `toml:"in_flight"`
	// MaxStaleRebuilds bounds swapchain re-creation while the window keeps
	// resizing. Negative means unbounded.
	MaxStaleRebuilds int `toml:"max_stale_rebuilds"`
}

// Swapchain holds preferences. Each list is tried in order and the first
// option the surface supports wins; if none match, the driver's first
// option is used.
type Swapchain struct {
	ImageCount   int      `toml:"image_count"`
	Formats      []string `toml:"formats"`
	ColorSpace   string   `toml:"color_space"`
	PresentModes []string `toml:"present_modes"`
}

type Shaders struct {
	Vertex   string `toml:"vertex"`
	Fragment string `toml:"fragment"`
	// Watch rebuilds the pipeline whenever either file changes on disk.
	Watch bool `toml:"watch"`
}

type Render struct {
	ClearColor  [4]float32 `toml:"clear_color"`
	PulseColor  [4]float32 `toml:"pulse_color"`
	PulsePeriod Duration   `toml:"pulse_period"`
}

type Debug struct {
	Validation bool   `toml:"validation"`
	LogLevel   string `toml:"log_level"`
}

// Duration is a time.Duration written as a Go duration string, e.g. "2s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	*d = Duration(parsed)
	return nil
}

func Default() Config {
	return Config{
		Window: Window{
			Title:     "Vulkan",
			Width:     800,
			Height:    600,
			Resizable: true,
		},
		Frames: Frames{
			InFlight:         2,
			MaxStaleRebuilds: 8,
		},
		Swapchain: Swapchain{
			ImageCount:   3,
			Formats:      []string{"B8G8R8A8_SRGB", "R8G8B8A8_SRGB"},
			ColorSpace:   "SRGB_NONLINEAR",
			PresentModes: []string{"MAILBOX", "FIFO"},
		},
		Shaders: Shaders{
			Vertex:   "shaders/vert.spv",
			Fragment: "shaders/frag.spv",
		},
		Render: Render{
			ClearColor:  [4]float32{0, 0, 0, 1},
			PulseColor:  [4]float32{0.1, 0.1, 0.3, 1},
			PulsePeriod: Duration(4 * time.Second),
		},
		Debug: Debug{
			Validation: true,
			LogLevel:   "info",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result. Unknown
// keys are an error.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	err := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, errors.Newf("unknown keys:\n%s", strict.String())
		}
		var decode *toml.DecodeError
		if errors.As(err, &decode) {
			row, col := decode.Position()
			return Config{}, errors.Newf("line %d column %d: %s", row, col, decode.Error())
		}
		return Config{}, errors.Wrap(err, "decode config")
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Window.Width <= 0 || c.Window.Height <= 0:
		return errors.Newf("window size must be positive, got %dx%d", c.Window.Width, c.Window.Height)
	case c.Frames.InFlight < 1:
		return errors.Newf("frames.in_flight must be at least 1, got %d", c.Frames.InFlight)
	case c.Swapchain.ImageCount < 1:
		return errors.Newf("swapchain.image_count must be at least 1, got %d", c.Swapchain.ImageCount)
	case c.Shaders.Vertex == "" || c.Shaders.Fragment == "":
		return errors.New("shaders.vertex and shaders.fragment are required")
	case c.Render.PulsePeriod < 0:
		return errors.Newf("render.pulse_period must not be negative, got %s", time.Duration(c.Render.PulsePeriod))
	}

	_, err := c.Debug.Level()
	return err
}

// Level parses LogLevel as an slog level name.
func (d Debug) Level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(d.LogLevel))
	if err != nil {
		return 0, errors.Wrapf(err, "debug.log_level %q", d.LogLevel)
	}
	return level, nil
}

// Encode writes c as TOML.
func (c Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	err := enc.Encode(c)
	if err != nil {
		return nil, errors.Wrap(err, "encode config")
	}
	return buf.Bytes(), nil
}
