package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/padlink/backend/internal/device"
	"github.com/padlink/backend/internal/input"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Controller ControllerConfig `yaml:"controller"`
	Device     DeviceConfig     `yaml:"device"`
	Resources  ResourceConfig   `yaml:"resources"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ControllerConfig struct {
	Mode          device.Mode     `yaml:"mode"`
	MaxSessions   int             `yaml:"max_sessions"`
	Sensitivity   float64         `yaml:"sensitivity"`
	Deadzone      float64         `yaml:"deadzone"`
	PointerScale  float64         `yaml:"pointer_scale"`
	Debounce      time.Duration   `yaml:"debounce"`
	ClickDuration time.Duration   `yaml:"click_duration"`
	EventQueue    int             `yaml:"event_queue"`
	Vibration     VibrationConfig `yaml:"vibration"`
}

type VibrationConfig struct {
	MinDuration time.Duration `yaml:"min_duration"`
	MaxDuration time.Duration `yaml:"max_duration"`
}

type DeviceConfig struct {
	Path      string         `yaml:"path"`
	Name      string         `yaml:"name"`
	VendorID  uint16         `yaml:"vendor_id"`
	ProductID uint16         `yaml:"product_id"`
	Buttons   map[string]int `yaml:"buttons"`
}

// ResourceConfig bounds admission in keyboard+mouse mode, where there is no
// slot limit. Zero disables a check.
type ResourceConfig struct {
	MaxMemoryPercent float64       `yaml:"max_memory_percent"`
	MaxOpenFiles     int           `yaml:"max_open_files"`
	SampleInterval   time.Duration `yaml:"sample_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Controller: ControllerConfig{
			Mode:          device.ModeGamepad,
			MaxSessions:   4,
			Sensitivity:   0.8,
			Deadzone:      0.1,
			PointerScale:  1.0,
			Debounce:      50 * time.Millisecond,
			ClickDuration: 100 * time.Millisecond,
			EventQueue:    256,
			Vibration: VibrationConfig{
				MinDuration: 100 * time.Millisecond,
				MaxDuration: 5 * time.Second,
			},
		},
		Device: DeviceConfig{
			Path:      device.DefaultUInputPath,
			Name:      "Padlink Controller",
			VendorID:  0x045e,
			ProductID: 0x028e,
		},
		Resources: ResourceConfig{
			MaxMemoryPercent: 95,
			SampleInterval:   2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	cc := c.Controller
	if !cc.Mode.Valid() {
		errs = append(errs, fmt.Errorf("controller.mode %q: must be %q or %q", cc.Mode, device.ModeGamepad, device.ModeKeyboardMouse))
	}
	if cc.Mode == device.ModeGamepad && cc.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("controller.max_sessions must be at least 1 in gamepad mode, got %d", cc.MaxSessions))
	}
	if cc.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("controller.max_sessions must not be negative, got %d", cc.MaxSessions))
	}
	if cc.Sensitivity <= 0 {
		errs = append(errs, fmt.Errorf("controller.sensitivity must be positive, got %v", cc.Sensitivity))
	}
	if cc.Deadzone < 0 || cc.Deadzone >= 1 {
		errs = append(errs, fmt.Errorf("controller.deadzone must be in [0, 1), got %v", cc.Deadzone))
	}
	if cc.PointerScale <= 0 {
		errs = append(errs, fmt.Errorf("controller.pointer_scale must be positive, got %v", cc.PointerScale))
	}
	if cc.Debounce < 0 {
		errs = append(errs, fmt.Errorf("controller.debounce must not be negative, got %v", cc.Debounce))
	}
	if cc.ClickDuration <= 0 {
		errs = append(errs, fmt.Errorf("controller.click_duration must be positive, got %v", cc.ClickDuration))
	}
	if cc.EventQueue < 1 {
		errs = append(errs, fmt.Errorf("controller.event_queue must be at least 1, got %d", cc.EventQueue))
	}
	if cc.Vibration.MinDuration <= 0 || cc.Vibration.MaxDuration < cc.Vibration.MinDuration {
		errs = append(errs, fmt.Errorf("controller.vibration durations invalid: min %v, max %v", cc.Vibration.MinDuration, cc.Vibration.MaxDuration))
	}
	for name := range c.Device.Buttons {
		if !input.Button(name).Valid() {
			errs = append(errs, fmt.Errorf("device.buttons: unknown button %q", name))
		}
	}
	if c.Resources.MaxMemoryPercent < 0 || c.Resources.MaxMemoryPercent > 100 {
		errs = append(errs, fmt.Errorf("resources.max_memory_percent must be in [0, 100], got %v", c.Resources.MaxMemoryPercent))
	}
	return errors.Join(errs...)
}

// SlotLimit is the registry capacity: MaxSessions in gamepad mode, 0
// (unbounded) in keyboard+mouse mode.
func (c *Config) SlotLimit() int {
	if c.Controller.Mode == device.ModeKeyboardMouse {
		return 0
	}
	return c.Controller.MaxSessions
}

// ButtonCodes returns the code table for the configured mode.
func (c *Config) ButtonCodes() map[input.Button]int {
	return device.CodeTable(c.Controller.Mode, c.Device.Buttons)
}
