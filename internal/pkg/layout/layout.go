// Package layout declares client ports and their subscriptions in a file.
package layout

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("unsupported layout format")

type PortSpec struct {
	Name string `toml:"name" yaml:"name"`
	Mode string `toml:"mode" yaml:"mode"`
	// Channel is 1-based, zero means the first channel.
	Channel   int      `toml:"channel" yaml:"channel"`
	Readable  []string `toml:"readable" yaml:"readable"`
	Writeable []string `toml:"writeable" yaml:"writeable"`
}

func (s PortSpec) mode() (midi.Mode, error) {
	return midi.ParseMode(s.Mode)
}

// outputChannel returns 0-based channel.
func (s PortSpec) outputChannel() uint8 {
	if s.Channel <= 0 {
		return 0
	}
	return uint8(s.Channel - 1)
}

type Layout struct {
	Ports []PortSpec `toml:"port" yaml:"port"`
}

// Validate checks port names are present and unique, modes are known and channels are in range.
func (l Layout) Validate() error {
	names := make(map[string]bool)
	for i, p := range l.Ports {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("port %d: empty name", i)
		}
		if names[p.Name] {
			return fmt.Errorf("port \"%s\": defined more than once", p.Name)
		}
		names[p.Name] = true
		if _, err := p.mode(); err != nil {
			return fmt.Errorf("port \"%s\": %w", p.Name, err)
		}
		if p.Channel < 0 || p.Channel > 16 {
			return fmt.Errorf("port \"%s\": channel %d out of range 1-16", p.Name, p.Channel)
		}
	}
	return nil
}

// Parse decodes layout, format is "toml" or "yaml".
func Parse(data []byte, format string) (Layout, error) {
	var l Layout
	switch format {
	case "toml":
		d := toml.NewDecoder(bytes.NewReader(data))
		d.DisallowUnknownFields()
		if err := d.Decode(&l); err != nil {
			return Layout{}, fmt.Errorf("toml decode error: %w", err)
		}
	case "yaml":
		d := yaml.NewDecoder(bytes.NewReader(data))
		d.KnownFields(true)
		if err := d.Decode(&l); err != nil && !errors.Is(err, io.EOF) {
			return Layout{}, fmt.Errorf("yaml decode error: %w", err)
		}
	default:
		return Layout{}, fmt.Errorf("%w: \"%s\"", ErrUnsupportedFormat, format)
	}
	return l, l.Validate()
}

// Load reads layout file, format is chosen by extension.
func Load(path string) (Layout, error) {
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = "toml"
	case ".yaml", ".yml":
		format = "yaml"
	default:
		return Layout{}, fmt.Errorf("%w: \"%s\"", ErrUnsupportedFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("cannot read layout: %w", err)
	}
	l, err := Parse(data, format)
	if err != nil {
		return Layout{}, fmt.Errorf("layout \"%s\": %w", path, err)
	}
	return l, nil
}
