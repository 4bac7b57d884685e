package alsa

import (
	"os"
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/config"
	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"github.com/gethiox/seqmidi/internal/pkg/tempo"
	"go.uber.org/zap"
)

const (
	DefaultClientName   = "seqmidi"
	DefaultDriver       = "rtmidi"
	DefaultPollInterval = time.Second
	DefaultGracePeriod  = 500 * time.Millisecond
)

type options struct {
	log          *zap.Logger
	driver       seq.Driver
	device       string
	settings     config.Store
	getenv       func(string) string
	tempo        tempo.Source
	bpm          int
	clientName   string
	pollInterval time.Duration
	grace        time.Duration
}

func defaultOptions() options {
	return options{
		getenv:       os.Getenv,
		bpm:          tempo.DefaultBPM,
		clientName:   DefaultClientName,
		pollInterval: DefaultPollInterval,
		grace:        DefaultGracePeriod,
	}
}

// Option configures Client created by New.
type Option func(*options)

// WithLogger sets logger, entries go to logger.Messages by default.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithDriver sets sequencer backend, DefaultDriver is looked up in seq registry otherwise.
func WithDriver(d seq.Driver) Option {
	return func(o *options) {
		o.driver = d
	}
}

// WithDevice bypasses device probing.
func WithDevice(device string) Option {
	return func(o *options) {
		o.device = device
	}
}

// WithSettings sets store consulted for the device selection.
func WithSettings(s config.Store) Option {
	return func(o *options) {
		o.settings = s
	}
}

func WithEnv(getenv func(string) string) Option {
	return func(o *options) {
		o.getenv = getenv
	}
}

// WithTempo makes the client follow tempo changes of src, its current value replaces WithBPM.
func WithTempo(src tempo.Source) Option {
	return func(o *options) {
		o.tempo = src
	}
}

func WithBPM(bpm int) Option {
	return func(o *options) {
		o.bpm = bpm
	}
}

func WithClientName(name string) Option {
	return func(o *options) {
		o.clientName = name
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		o.grace = d
	}
}

func (o *options) resolve() error {
	if o.log == nil {
		o.log = logger.GetLogger()
	}
	if o.driver == nil {
		d, err := seq.Get(DefaultDriver)
		if err != nil {
			return err
		}
		o.driver = d
	}
	if o.device == "" {
		o.device = config.ProbeDevice(o.settings, o.getenv)
	}
	if o.tempo != nil {
		o.bpm = o.tempo.BPM()
	}
	return nil
}
