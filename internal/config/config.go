package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gpsfreak/internal/rational"
)

type Config struct {
	Device    DeviceConfig `yaml:"device"`
	Reference string       `yaml:"reference"`
	RefDiv    RefDivConfig `yaml:"refdiv"`
	PPS       PPSConfig    `yaml:"pps"`
}

type DeviceConfig struct {
	Path string `yaml:"path"`
	Baud int    `yaml:"baud"`
}

// RefDivConfig drives the reference-divisor chooser: the GPS receiver's
// internal clock, the usable time-pulse band, and the on-board clocks whose
// aliasing spurs the chosen frequency must stay away from.
type RefDivConfig struct {
	BaseClock string   `yaml:"base_clock"`
	BandLow   string   `yaml:"band_low"`
	BandHigh  string   `yaml:"band_high"`
	Avoid     []string `yaml:"avoid"`
	// Margin is the minimum acceptable aliasing distance, as a fraction of a
	// cycle in [0, 1/2).
	Margin string `yaml:"margin"`
}

type PPSConfig struct {
	Chip    string        `yaml:"chip"`
	Line    int           `yaml:"line"`
	Edges   int           `yaml:"edges"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Device:    DeviceConfig{Path: "/dev/ttyACM0", Baud: 115200},
		Reference: "8844582Hz",
		RefDiv: RefDivConfig{
			BaseClock: "48MHz",
			BandLow:   "8MHz",
			BandHigh:  "10MHz",
			Avoid:     []string{"30.72MHz", "2500MHz"},
			Margin:    "1/10",
		},
		PPS: PPSConfig{Chip: "gpiochip0", Line: 18, Edges: 5, Timeout: 30 * time.Second},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Device.Path == "" {
		return Config{}, fmt.Errorf("device.path is required")
	}
	if cfg.Device.Baud <= 0 {
		cfg.Device.Baud = 115200
	}

	if _, err := cfg.ReferenceFreq(); err != nil {
		return Config{}, fmt.Errorf("reference: %v", err)
	}
	if _, err := cfg.RefDivParams(); err != nil {
		return Config{}, err
	}

	if cfg.PPS.Edges <= 1 {
		cfg.PPS.Edges = 5
	}
	if cfg.PPS.Timeout <= 0 {
		cfg.PPS.Timeout = 30 * time.Second
	}

	return cfg, nil
}

// RefDivParams is the parsed form of RefDivConfig.
type RefDivParams struct {
	Base, Lo, Hi rational.Rational
	Avoid        []rational.Rational
	Margin       rational.Rational
}

// RefDivParams parses the reference-divisor settings.
func (c Config) RefDivParams() (RefDivParams, error) {
	var p RefDivParams
	var err error
	if p.Base, err = rational.Parse(c.RefDiv.BaseClock); err != nil {
		return RefDivParams{}, fmt.Errorf("refdiv.base_clock: %v", err)
	}
	if p.Lo, err = rational.Parse(c.RefDiv.BandLow); err != nil {
		return RefDivParams{}, fmt.Errorf("refdiv.band_low: %v", err)
	}
	if p.Hi, err = rational.Parse(c.RefDiv.BandHigh); err != nil {
		return RefDivParams{}, fmt.Errorf("refdiv.band_high: %v", err)
	}
	for _, a := range c.RefDiv.Avoid {
		f, err := rational.Parse(a)
		if err != nil {
			return RefDivParams{}, fmt.Errorf("refdiv.avoid: %v", err)
		}
		p.Avoid = append(p.Avoid, f)
	}
	if p.Margin, err = rational.ParseRatio(c.RefDiv.Margin); err != nil {
		return RefDivParams{}, fmt.Errorf("refdiv.margin: %v", err)
	}
	return p, nil
}

// ReferenceFreq returns the configured reference input frequency.
func (c Config) ReferenceFreq() (rational.Rational, error) {
	f, err := rational.Parse(c.Reference)
	if err != nil {
		return rational.Zero, err
	}
	if f.Sign() <= 0 {
		return rational.Zero, fmt.Errorf("reference must be positive")
	}
	return f, nil
}
