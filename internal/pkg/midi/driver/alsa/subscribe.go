package alsa

import (
	"errors"
	"fmt"

	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"go.uber.org/zap"
)

var (
	ErrNotApplicable  = errors.New("port not applicable")
	ErrInvalidAddress = seq.ErrInvalidAddress
)

// SubscribeReadablePort links readable port at address to the input side of port,
// or removes such link when unsubscribe is set.
func (c *Client) SubscribeReadablePort(port *midi.Port, address string, unsubscribe bool) error {
	ids, ok := c.registry.IDs(port)
	if !ok || !port.Mode().Receives() || ids.In == NoPort {
		return fmt.Errorf("%w: %s can't receive", ErrNotApplicable, port)
	}

	sender, err := c.parseAddress(port, address)
	if err != nil {
		return err
	}
	dest := seq.Addr{Client: c.conn.ClientID(), Port: ids.In}
	return c.link(port, address, sender, dest, unsubscribe)
}

// SubscribeWriteablePort links output side of port to writeable port at address,
// or removes such link when unsubscribe is set.
func (c *Client) SubscribeWriteablePort(port *midi.Port, address string, unsubscribe bool) error {
	ids, ok := c.registry.IDs(port)
	if !ok || !port.Mode().Sends() {
		return fmt.Errorf("%w: %s can't send", ErrNotApplicable, port)
	}
	source := ids.Out
	if source == NoPort {
		source = ids.In
	}
	if source == NoPort {
		return fmt.Errorf("%w: %s can't send", ErrNotApplicable, port)
	}

	dest, err := c.parseAddress(port, address)
	if err != nil {
		return err
	}
	sender := seq.Addr{Client: c.conn.ClientID(), Port: source}
	return c.link(port, address, sender, dest, unsubscribe)
}

func (c *Client) parseAddress(port *midi.Port, address string) (seq.Addr, error) {
	var addr seq.Addr
	err := c.conn.with(func(h seq.Sequencer) error {
		var err error
		addr, err = h.ParseAddress(address)
		return err
	})
	if err != nil {
		c.log.Info("cannot parse address", zap.String("port", port.Name()), zap.String("address", address), zap.Error(err), logger.Warning)
		return seq.Addr{}, err
	}
	return addr, nil
}

func (c *Client) link(port *midi.Port, address string, sender, dest seq.Addr, unsubscribe bool) error {
	action := "subscribe"
	if unsubscribe {
		action = "unsubscribe"
	}

	err := c.conn.with(func(h seq.Sequencer) error {
		if unsubscribe {
			return h.Unsubscribe(sender, dest)
		}
		return h.Subscribe(sender, dest)
	})
	if err != nil {
		c.log.Info(fmt.Sprintf("%s failed", action), zap.String("port", port.Name()), zap.String("address", address), zap.Error(err), logger.Warning)
		return fmt.Errorf("%s %s -> %s: %w", action, sender, dest, err)
	}
	c.log.Info(fmt.Sprintf("%s %s -> %s", action, sender, dest), zap.String("port", port.Name()), zap.String("address", address), logger.Info)
	return nil
}
