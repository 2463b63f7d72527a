// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package segment

import (
	"errors"
	"fmt"
)

// A Segment is an open mapping of a shared block and a handle to its lock.
// Shared segments are not supported on this platform.
type Segment struct{ cfg Config }

// Open reports an error wrapping [ErrUnavailable] and [errors.ErrUnsupported].
func Open(c Config) (*Segment, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.ErrUnsupported)
}

func (s *Segment) Config() Config { return s.cfg }
func (s *Segment) Created() bool  { return false }
func (s *Segment) Bytes() []byte  { return nil }
func (s *Segment) Lock() error    { return ErrClosed }
func (s *Segment) Unlock()        {}
func (s *Segment) Removed() bool  { return true }
func (s *Segment) Remove() error  { return Remove(s.cfg) }
func (s *Segment) Close() error   { return nil }
