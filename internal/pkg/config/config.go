// Package config persists client settings in an ini file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/go-ini/ini"
)

var log = logger.GetLogger()

const (
	SeqSection    = "midi-backend-seq"
	DeviceKey     = "device"
	DeviceEnv     = "MIDIDEV"
	DefaultDevice = "default"
)

// Store is a two-level key-value settings accessor.
type Store interface {
	Value(section, key string) (string, bool)
	SetValue(section, key, value string)
	Save() error
}

// File is a Store backed by an ini file.
type File struct {
	mutex sync.Mutex
	path  string
	cfg   *ini.File
}

// Load reads settings from path, missing file results in an empty store that will create it on Save.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &File{path: path, cfg: ini.Empty()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read \"%s\" config: %w", path, err)
	}

	cfg, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("cannot parse \"%s\" config: %w", path, err)
	}
	return &File{path: path, cfg: cfg}, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Value(section, key string) (string, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	s, err := f.cfg.GetSection(section)
	if err != nil {
		return "", false
	}
	if !s.HasKey(key) {
		return "", false
	}
	return s.Key(key).String(), true
}

func (f *File) SetValue(section, key, value string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.cfg.Section(section).Key(key).SetValue(value)
}

func (f *File) Save() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.path == "" {
		return errors.New("config has no file path")
	}
	if err := f.cfg.SaveTo(f.path); err != nil {
		return fmt.Errorf("cannot save \"%s\" config: %w", f.path, err)
	}
	return nil
}

// ProbeDevice resolves sequencer device: stored setting first, then $MIDIDEV, then "default".
// store and getenv may be nil.
func ProbeDevice(store Store, getenv func(string) string) string {
	if store != nil {
		if device, ok := store.Value(SeqSection, DeviceKey); ok && device != "" {
			return device
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if device := getenv(DeviceEnv); device != "" {
		return device
	}
	return DefaultDevice
}

// SaveDevice stores device selection and persists it immediately.
func SaveDevice(store Store, device string) error {
	store.SetValue(SeqSection, DeviceKey, device)
	return store.Save()
}
