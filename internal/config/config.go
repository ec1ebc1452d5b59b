package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its config when -config is not
// given.
const DefaultPath = "/etc/epdpi/config.yaml"

// Environment overrides, applied after the file is read.
const (
	EnvDeviceID      = "ID"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the status server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RedisConfig describes the broker connection and channels.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"-"`
	DB       int    `yaml:"db" json:"db"`

	// SubscribeChannel carries commands in.
	SubscribeChannel string `yaml:"subscribe_channel" json:"subscribe_channel"`
	// PublishChannel carries results and busy notifications out.
	PublishChannel string `yaml:"publish_channel" json:"publish_channel"`
	// BusyKey is the shared busy flag.
	BusyKey string `yaml:"busy_key" json:"busy_key"`
}

// MachineConfig controls the authorized-host check.
type MachineConfig struct {
	// EnvVar must be present in the environment of a panel host.
	EnvVar string `yaml:"env_var" json:"env_var"`
}

// CanvasConfig is the logical drawing surface, landscape.
type CanvasConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// FontConfig selects the text font. An empty path uses the built-in bold face.
type FontConfig struct {
	Path string `yaml:"path" json:"path"`
}

// PinsConfig names the panel GPIO lines (periph names, e.g. "GPIO17").
type PinsConfig struct {
	RST  string `yaml:"rst" json:"rst"`
	DC   string `yaml:"dc" json:"dc"`
	CS   string `yaml:"cs,omitempty" json:"cs,omitempty"`
	BUSY string `yaml:"busy" json:"busy"`
	PWR  string `yaml:"pwr,omitempty" json:"pwr,omitempty"`
}

// EPDConfig selects and configures the panel driver.
type EPDConfig struct {
	// Driver is "spi" (default), "cgo" or "noop".
	Driver  string     `yaml:"driver" json:"driver"`
	SPIPort string     `yaml:"spi_port" json:"spi_port"`
	SpeedHz int64      `yaml:"speed_hz" json:"speed_hz"`
	Pins    PinsConfig `yaml:"pins" json:"pins"`
}

// ButtonConfig wires a physical push button to a local action.
type ButtonConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Pin     string `yaml:"pin" json:"pin"`
	// Action is "clear" or "draw" (draws the clock request once).
	Action string `yaml:"action" json:"action"`
}

// ClockConfig is the local periodic redraw.
type ClockConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Cron    string `yaml:"cron" json:"cron"`
	// Format is a Go time layout.
	Format string `yaml:"format" json:"format"`
	Image  string `yaml:"image" json:"image"`
	Mode   int    `yaml:"mode" json:"mode"`
	Color  int    `yaml:"color" json:"color"`
	Shadow int    `yaml:"shadow" json:"shadow"`
	Grid   bool   `yaml:"grid" json:"grid"`
}

// WebConfig is the status HTTP server.
type WebConfig struct {
	// Listen is the HTTP listen address; empty disables the server.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// BatteryConfig points at the I2C battery controller.
type BatteryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Bus     string `yaml:"bus" json:"bus"`
	Addr    uint16 `yaml:"addr" json:"addr"`
}

// Config is the top-level application configuration.
type Config struct {
	// DeviceID prefixes every outbound message when set.
	DeviceID string `yaml:"device_id" json:"device_id"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	Redis   RedisConfig   `yaml:"redis" json:"redis"`
	Machine MachineConfig `yaml:"machine" json:"machine"`
	Canvas  CanvasConfig  `yaml:"canvas" json:"canvas"`
	Font    FontConfig    `yaml:"font" json:"font"`

	// Dither enables Floyd-Steinberg error diffusion when quantizing.
	Dither bool `yaml:"dither" json:"dither"`
	// OpTimeout bounds one draw or clear on the panel.
	OpTimeout time.Duration `yaml:"op_timeout" json:"op_timeout"`

	EPD     EPDConfig     `yaml:"epd" json:"epd"`
	Button  ButtonConfig  `yaml:"button" json:"button"`
	Clock   ClockConfig   `yaml:"clock" json:"clock"`
	Web     WebConfig     `yaml:"web" json:"web"`
	Battery BatteryConfig `yaml:"battery" json:"battery"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Redis: RedisConfig{
			Addr:             "127.0.0.1:6379",
			SubscribeChannel: "epdpi",
			PublishChannel:   "clockpi",
			BusyKey:          "epd_busy",
		},
		Machine:   MachineConfig{EnvVar: "IS_RASPBERRYPI"},
		Canvas:    CanvasConfig{Width: 800, Height: 480},
		Dither:    true,
		OpTimeout: 2 * time.Minute,
		EPD: EPDConfig{
			Driver:  "spi",
			SpeedHz: 4_000_000,
			Pins:    PinsConfig{RST: "GPIO17", DC: "GPIO25", BUSY: "GPIO24", PWR: "GPIO18"},
		},
		Button: ButtonConfig{Pin: "GPIO16", Action: "clear"},
		Clock: ClockConfig{
			Cron:   "* * * * *",
			Format: "15:04",
			Mode:   22,
			Color:  2,
		},
		Web:     WebConfig{Listen: "127.0.0.1:8080"},
		Battery: BatteryConfig{Addr: 0x75},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = d.Redis.Addr
	}
	if c.Redis.SubscribeChannel == "" {
		c.Redis.SubscribeChannel = d.Redis.SubscribeChannel
	}
	if c.Redis.PublishChannel == "" {
		c.Redis.PublishChannel = d.Redis.PublishChannel
	}
	if c.Redis.BusyKey == "" {
		c.Redis.BusyKey = d.Redis.BusyKey
	}
	if c.Machine.EnvVar == "" {
		c.Machine.EnvVar = d.Machine.EnvVar
	}
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		c.Canvas = d.Canvas
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = d.OpTimeout
	}

	if c.EPD.Driver == "" {
		c.EPD.Driver = d.EPD.Driver
	}
	if c.EPD.SpeedHz <= 0 {
		c.EPD.SpeedHz = d.EPD.SpeedHz
	}
	if c.EPD.Pins.RST == "" {
		c.EPD.Pins.RST = d.EPD.Pins.RST
	}
	if c.EPD.Pins.DC == "" {
		c.EPD.Pins.DC = d.EPD.Pins.DC
	}
	if c.EPD.Pins.BUSY == "" {
		c.EPD.Pins.BUSY = d.EPD.Pins.BUSY
	}

	if c.Button.Pin == "" {
		c.Button.Pin = d.Button.Pin
	}
	switch c.Button.Action {
	case "clear", "draw":
	default:
		// Unknown value; clearing is the harmless choice.
		c.Button.Action = "clear"
	}

	if c.Clock.Cron == "" {
		c.Clock.Cron = d.Clock.Cron
	}
	if c.Clock.Format == "" {
		c.Clock.Format = d.Clock.Format
	}

	if c.Battery.Addr == 0 {
		c.Battery.Addr = d.Battery.Addr
	}
}

// ApplyEnv overlays the environment overrides on c.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvDeviceID); ok {
		c.DeviceID = v
	}
	if v, ok := os.LookupEnv(EnvRedisPassword); ok {
		c.Redis.Password = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML over DefaultConfig
//   - normalize defaults
//
// Environment overrides are applied in both cases, after the file is
// written, so secrets from the environment never land on disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			err := Save(path, cfg)
			cfg.ApplyEnv()
			// Even if save fails, return cfg with error so caller can decide.
			return cfg, err
		}
		return nil, err
	}

	// Decode over the defaults so keys missing from the file keep their
	// default, including booleans that default to true.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".epdpi-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
