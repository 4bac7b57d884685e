package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gethiox/seqmidi/internal/pkg/config"
	"github.com/gethiox/seqmidi/internal/pkg/layout"
	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/gethiox/seqmidi/internal/pkg/midi/driver/alsa"
	"github.com/gethiox/seqmidi/internal/pkg/seq"
	_ "github.com/gethiox/seqmidi/internal/pkg/seq/loopback"
	"github.com/gethiox/seqmidi/internal/pkg/tempo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const defaultConfigPath = "./config/seqmidi.ini"

var log = logger.GetLogger()

type flags struct {
	config   string
	layout   string
	backend  string
	device   string
	bpm      int
	ui       bool
	nocolor  bool
	logLevel int
}

// level translates user facing verbosity (0-4) into logger levels.
func (f flags) level() int {
	if f.logLevel > logger.EventLvl {
		return logger.DebugLvl
	}
	return f.logLevel
}

// defaultLayout is used when no layout file is given.
var defaultLayout = layout.Layout{Ports: []layout.PortSpec{{Name: "midi", Mode: "duplex"}}}

// startLogs drains logger.Messages to stdout, returned function closes Messages and waits for the printer.
func startLogs(f flags) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		printLogs(!f.nocolor, f.level())
	}()
	return func() {
		close(logger.Messages)
		<-done
	}
}

func openClient(f flags, settings config.Store, opts ...alsa.Option) (*alsa.Client, error) {
	drv, err := seq.Get(f.backend)
	if err != nil {
		return nil, err
	}
	opts = append([]alsa.Option{
		alsa.WithDriver(drv),
		alsa.WithSettings(settings),
		alsa.WithLogger(log.With(zap.String("backend", f.backend))),
	}, opts...)
	if f.device != "" {
		opts = append(opts, alsa.WithDevice(f.device))
	}
	return alsa.New(opts...)
}

func run(f flags) error {
	settings, err := config.Load(f.config)
	if err != nil {
		return err
	}
	bpm, err := tempo.NewBroadcaster(f.bpm)
	if err != nil {
		return err
	}
	defer bpm.Close()

	var stopLogs func()
	var logsDone, uiDone chan struct{}
	if !f.ui {
		stopLogs = startLogs(f)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := openClient(f, settings, alsa.WithTempo(bpm))
	if err != nil {
		if stopLogs != nil {
			stopLogs()
		}
		return err
	}

	counter := newTraffic(log)
	manager := layout.NewManager(client, counter.Handler, log)

	var wg sync.WaitGroup
	if f.layout != "" {
		l, err := layout.Load(f.layout)
		if err != nil {
			log.Info("cannot load layout", zap.String("path", f.layout), zap.Error(err), logger.Error)
		} else {
			_ = manager.Apply(l)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := manager.Follow(ctx, f.layout); err != nil {
				log.Info("layout will not be reloaded", zap.Error(err), logger.Warning)
			}
		}()
	} else {
		_ = manager.Apply(defaultLayout)
	}

	if f.ui {
		m, err := newMonitor(!f.nocolor, f.level(), client, manager, bpm, counter, log)
		if err != nil {
			cancel()
			wg.Wait()
			_ = client.Close()
			return fmt.Errorf("cannot start ui: %w", err)
		}
		logsDone = make(chan struct{})
		go m.feedLogs(logsDone)
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.followChanges(ctx.Done())
		}()
		uiDone = make(chan struct{})
		go func() {
			defer close(uiDone)
			if err := m.Run(); err != nil {
				log.Info("ui failed", zap.Error(err), logger.Error)
			}
			cancel()
		}()
		context.AfterFunc(ctx, m.Quit)
	}

	<-ctx.Done()
	log.Info("shutting down", logger.Info)
	cancel()
	wg.Wait()
	err = client.Close()

	// closing Messages is safe only when everything that may log is done
	if stopLogs != nil {
		stopLogs()
	} else {
		<-uiDone
		close(logger.Messages)
		<-logsDone
	}
	return err
}

func portsCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List ports available for subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(f.config)
			if err != nil {
				return err
			}
			stopLogs := startLogs(*f)
			defer stopLogs()

			client, err := openClient(*f, settings)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			if err := client.Refresh(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "readable:")
			for _, p := range client.ReadablePorts() {
				fmt.Fprintf(out, "  %s\n", p)
			}
			fmt.Fprintln(out, "writeable:")
			for _, p := range client.WriteablePorts() {
				fmt.Fprintf(out, "  %s\n", p)
			}
			return nil
		},
	}
}

func deviceCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "device [name]",
		Short: "Show or store sequencer device name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(f.config)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), config.ProbeDevice(settings, nil))
				return nil
			}
			if err := config.SaveDevice(settings, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "device set to \"%s\" in %s\n", args[0], settings.Path())
			return nil
		},
	}
}

// defaultBackend prefers the system sequencer when it is compiled in.
func defaultBackend() string {
	if _, err := seq.Get(alsa.DefaultDriver); err == nil {
		return alsa.DefaultDriver
	}
	return "loopback"
}

func rootCommand() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "seqmidi",
		Short:         "Sequencer MIDI client with file declared ports",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Flags().Visit(func(fl *pflag.Flag) {
				log.Info(fmt.Sprintf("flag --%s=%s", fl.Name, fl.Value), logger.Debug)
			})
			return run(f)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.config, "config", defaultConfigPath, "settings file (ini)")
	pf.StringVar(&f.backend, "backend", defaultBackend(), fmt.Sprintf("sequencer backend, one of: %v", seq.Drivers()))
	pf.StringVar(&f.device, "device", "", fmt.Sprintf("sequencer device, overrides settings and $%s", config.DeviceEnv))
	pf.BoolVar(&f.nocolor, "nocolor", false, "disable color")
	pf.IntVar(&f.logLevel, "loglevel", logger.InfoLvl,
		"logging level (0-4)\n"+
			"0: errors\n"+
			"1: warnings\n"+
			"2: general info (ports, subscriptions)\n"+
			"3: midi events\n"+
			"4: debug",
	)

	fl := root.Flags()
	fl.StringVar(&f.layout, "layout", "", "port layout file (.toml, .yaml), reloaded on change")
	fl.IntVar(&f.bpm, "bpm", tempo.DefaultBPM, "queue tempo")
	fl.BoolVar(&f.ui, "ui", false, "terminal monitor")

	root.AddCommand(portsCommand(&f), deviceCommand(&f), playCommand(&f))
	return root
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "seqmidi: %v\n", err)
		os.Exit(1)
	}
}
