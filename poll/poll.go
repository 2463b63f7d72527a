// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package poll provides a loop that delivers the messages of a dialog to a
// participant by polling the shared store on an interval.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/creachadair/palaver"
	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"
)

// DefaultInterval is a reasonable default polling interval.
const DefaultInterval = 200 * time.Millisecond

// A Receiver delivers the pending messages of a dialog to a participant.
// A *palaver.Store satisfies this interface.
type Receiver interface {
	Receive(dialogID, pid int) (*palaver.Report, error)
}

// Config describes what a Poller polls.
type Config struct {
	DialogID int
	PID      int

	// Every is the polling interval. If zero, DefaultInterval is used.
	// It is an error for Every to be negative.
	Every time.Duration

	// Deliver is called with each report that delivered messages, or that
	// records a change in the state of the dialog. Deliver is called from a
	// single goroutine, and the next poll does not begin until it returns.
	Deliver func(*palaver.Report)

	// Logger, if set, receives logs of polling errors.
	Logger *zap.Logger
}

// A Poller calls Receive for one participant of a dialog on an interval, and
// passes the results to a callback.
type Poller struct {
	stop  context.CancelFunc
	tasks *taskgroup.Group
}

// Start starts a poller running with the given settings. The poller polls
// immediately and then once per interval, until one of these happens:
//
//   - A report says the participant received the terminate marker.
//   - Receive reports an error.
//   - ctx ends or Stop is called.
//
// Start does not block; call Wait to wait for the poller to exit and report
// its status. Start panics if the interval is negative or Deliver is nil.
func Start(ctx context.Context, r Receiver, c Config) *Poller {
	if c.Every < 0 {
		panic("poll: negative interval")
	} else if c.Deliver == nil {
		panic("poll: nil Deliver function")
	}
	every := c.Every
	if every == 0 {
		every = DefaultInterval
	}
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}

	pctx, cancel := context.WithCancel(ctx)
	g := taskgroup.New(nil)
	g.Go(func() error {
		defer cancel()
		t := time.NewTicker(every)
		defer t.Stop()

		for {
			rep, err := r.Receive(c.DialogID, c.PID)
			if err != nil {
				log.Warn("receive failed", zap.Int("dialog", c.DialogID), zap.Error(err))
				return err
			}
			if len(rep.Delivered) != 0 || rep.Terminated {
				c.Deliver(rep)
			}
			if rep.Terminated {
				return nil
			}

			select {
			case <-pctx.Done():
				return nil
			case <-t.C:
			}
		}
	})
	return &Poller{stop: cancel, tasks: g}
}

// Stop stops the poller and blocks until it has exited. It returns the same
// result as Wait.
func (p *Poller) Stop() error { p.stop(); return p.Wait() }

// Wait blocks until p exits and reports the error that caused it to stop, or
// nil if it stopped because of termination, cancellation, or Stop.
func (p *Poller) Wait() error {
	err := p.tasks.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
