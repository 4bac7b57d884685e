package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/config"
	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"github.com/gethiox/seqmidi/internal/pkg/midi/driver/alsa"
	"github.com/gethiox/seqmidi/internal/pkg/tempo"
	mmidi "github.com/moutend/go-midi"
	mmidiev "github.com/moutend/go-midi/event"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type note struct {
	channel uint8
	key     int
}

// player sends note events of a standard midi file through port.
type player struct {
	send     func(ev midi.Event) error
	bpm      int
	division int
	log      *zap.Logger

	mutex   sync.Mutex
	playing map[note]bool
}

func newPlayer(send func(ev midi.Event) error, bpm, division int, log *zap.Logger) *player {
	return &player{send: send, bpm: bpm, division: division, log: log, playing: make(map[note]bool)}
}

func (p *player) delay(delta uint32) time.Duration {
	return time.Duration(delta) * time.Minute / time.Duration(p.bpm) / time.Duration(p.division)
}

func (p *player) emit(ev midi.Event) {
	n := note{channel: ev.Channel, key: ev.Key}
	p.mutex.Lock()
	if ev.Type == midi.NoteOn && ev.Velocity > 0 {
		p.playing[n] = true
	} else {
		delete(p.playing, n)
	}
	p.mutex.Unlock()

	if err := p.send(ev); err != nil {
		p.log.Info("cannot send event", zap.Stringer("event", ev), zap.Error(err), logger.Warning)
	}
}

// Play plays all tracks at once and releases notes left sounding.
func (p *player) Play(ctx context.Context, data []byte) error {
	smf, err := mmidi.NewParser(data).Parse()
	if err != nil {
		return fmt.Errorf("cannot parse midi file: %w", err)
	}

	var wg sync.WaitGroup
	for i := range smf.Tracks {
		track := smf.Tracks[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, event := range track.Events {
				select {
				case <-time.After(p.delay(event.DeltaTime().Quantity().Uint32())):
				case <-ctx.Done():
					return
				}

				// file keys are wire keys
				switch v := event.(type) {
				case *mmidiev.NoteOnEvent:
					raw := v.Serialize()
					p.emit(midi.NoteEvent(midi.NoteOn, v.Channel(), int(v.Note())-alsa.OctaveOffset, raw[len(raw)-1]))
				case *mmidiev.NoteOffEvent:
					p.emit(midi.NoteEvent(midi.NoteOff, v.Channel(), int(v.Note())-alsa.OctaveOffset, 0))
				}
			}
		}()
	}
	wg.Wait()

	p.mutex.Lock()
	var left []note
	for n := range p.playing {
		left = append(left, n)
	}
	p.mutex.Unlock()
	for _, n := range left {
		p.emit(midi.NoteEvent(midi.NoteOff, n.channel, n.key, 0))
	}
	return nil
}

func playCommand(f *flags) *cobra.Command {
	var to string
	var division int
	cmd := &cobra.Command{
		Use:   "play FILE",
		Short: "Play standard midi file through a client port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			settings, err := config.Load(f.config)
			if err != nil {
				return err
			}
			if division <= 0 {
				return fmt.Errorf("invalid division: %d", division)
			}
			bpm, err := tempo.NewBroadcaster(f.bpm)
			if err != nil {
				return err
			}
			defer bpm.Close()

			stopLogs := startLogs(*f)
			defer stopLogs()

			client, err := openClient(*f, settings)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			port := midi.NewPort("player", midi.ModeOutput, 0, nil)
			if err := client.AddPort(port); err != nil {
				return err
			}
			if to != "" {
				if err := client.SubscribeWriteablePort(port, to, false); err != nil {
					return err
				}
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			send := func(ev midi.Event) error {
				return client.ProcessOutEvent(ev, midi.Now, port)
			}
			log.Info(fmt.Sprintf("playing %s", args[0]), zap.String("port", port.Name()), logger.Info)
			return newPlayer(send, bpm.BPM(), division, log).Play(ctx, data)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "address to connect player port to, eg. 128:0")
	cmd.Flags().IntVar(&division, "division", 96, "ticks per quarter note used by the file")
	cmd.Flags().IntVar(&f.bpm, "bpm", tempo.DefaultBPM, "playback tempo")
	return cmd
}
