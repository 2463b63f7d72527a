// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package palaver

import (
	"errors"
	"expvar"
	"fmt"
	"math"
	"os"

	"github.com/creachadair/palaver/segment"
	"go.uber.org/zap"
)

// DefaultName is the segment name used when Options.Name is empty.
const DefaultName = "dialog"

// Options control how a Store is attached. A nil *Options is ready for use
// and provides default values.
type Options struct {
	// Name is the well-known key of the shared segment. Processes that use the
	// same name (and directory) share a store. If empty, DefaultName is used.
	Name string

	// Dir is the directory holding the segment files. If empty, the default
	// chosen by the segment package is used.
	Dir string

	// ProcessID identifies the caller as a sender of messages.
	// If zero, the ID of the current process is used.
	ProcessID int

	// Logger, if set, receives structured logs of lifecycle events.
	Logger *zap.Logger
}

func (o *Options) segmentConfig() segment.Config {
	c := segment.Config{Name: DefaultName, Size: layoutSize}
	if o != nil {
		if o.Name != "" {
			c.Name = o.Name
		}
		c.Dir = o.Dir
	}
	return c
}

func (o *Options) processID() int {
	if o == nil || o.ProcessID == 0 {
		return os.Getpid()
	}
	return o.ProcessID
}

func (o *Options) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// A Store is one process's handle to the shared store. Every operation on the
// store runs under the single lock of the segment, so operations from all
// attached processes (and from all goroutines sharing a handle) observe a
// total order.
//
// A Store is safe for concurrent use by multiple goroutines.
type Store struct {
	seg *segment.Segment
	pid int
	log *zap.Logger
}

// Attach attaches to the shared store, mapping it into the address space of
// the caller.
//
// If create is true and the store does not exist, Attach creates and
// initializes it; if it exists, Attach uses it as it is. If create is false,
// the store must already exist.
//
// Attach reports ErrSegmentUnavailable if the segment cannot be obtained, and
// ErrLockUnavailable if its lock cannot be opened.
func Attach(create bool, opts *Options) (*Store, error) {
	pid := opts.processID()
	if pid <= 0 || pid > math.MaxInt32 {
		return nil, opError("attach", ErrInvalidID, nil)
	}
	cfg := opts.segmentConfig()
	cfg.Create = create
	cfg.Init = initLayout

	seg, err := segment.Open(cfg)
	if err != nil {
		if errors.Is(err, segment.ErrLockUnavailable) {
			return nil, opError("attach", ErrLockUnavailable, err)
		}
		return nil, opError("attach", ErrSegmentUnavailable, err)
	}
	log := opts.logger().With(zap.String("segment", cfg.DataPath()), zap.Int("pid", pid))
	s := &Store{seg: seg, pid: pid, log: log}

	if err := s.withLock(func(*layout) error { return nil }); err != nil {
		seg.Close()
		return nil, opError("attach", err, nil)
	}
	if seg.Created() {
		log.Info("created shared segment", zap.Int("bytes", layoutSize))
	} else {
		log.Debug("attached shared segment")
	}
	return s, nil
}

// ProcessID returns the process ID s uses when sending messages.
func (s *Store) ProcessID() int { return s.pid }

// Metrics returns the metrics map shared by all stores in this process.
func (s *Store) Metrics() *expvar.Map { return storeMetrics.emap }

// Detach unmaps the store from the caller's address space and closes its
// handle to the lock. It does not remove the store. After Detach, operations
// on s report ErrSegmentUnavailable. Detaching a detached store is a no-op.
func (s *Store) Detach() error {
	if err := s.seg.Close(); err != nil {
		return opError("detach", ErrSegmentUnavailable, err)
	}
	return nil
}

// Destroy removes the shared store described by opts and its lock from the
// system. It is not an error if they do not exist. Processes still attached
// are not harmed: their next operation reports ErrSegmentUnavailable.
//
// Destroy is for administrative cleanup, for example after a process died
// without closing its dialogs. The store destroys itself when the last dialog
// closes.
func Destroy(opts *Options) error {
	cfg := opts.segmentConfig()
	if err := segment.Remove(cfg); err != nil {
		return opError("destroy", ErrSegmentUnavailable, err)
	}
	opts.logger().Info("removed shared segment", zap.String("segment", cfg.DataPath()))
	return nil
}

// withLock calls f with the contents of the store while holding the lock. The
// lock is released when f returns, whether or not it reports an error.
//
// If the lock cannot be acquired, or the store has been destroyed, withLock
// reports ErrSegmentUnavailable without calling f.
func (s *Store) withLock(f func(*layout) error) error {
	if err := s.seg.Lock(); err != nil {
		return fmt.Errorf("%w: %w", ErrSegmentUnavailable, err)
	}
	defer s.seg.Unlock()

	m := overlay(s.seg.Bytes())
	if err := m.check(); err != nil {
		return fmt.Errorf("%w: %w", ErrSegmentUnavailable, err)
	}
	return f(m)
}

// removeSegment removes the files of seg. Tests replace it to simulate a
// failed removal.
var removeSegment = (*segment.Segment).Remove

// destroyLocked removes the segment from the system and marks m destroyed.
// The caller must hold the lock. Other attached processes observe the removal
// when they next acquire the lock.
//
// If the shared block could not be removed, m is left intact and usable, and
// destroyLocked reports an error. A leftover lock file alone is logged but is
// not an error, since no process can attach to it.
func (s *Store) destroyLocked(m *layout) error {
	err := removeSegment(s.seg)
	if !s.seg.Removed() {
		if err == nil {
			err = errors.New("shared block still present after removal")
		}
		return err
	}
	m.destroyed = 1
	storeMetrics.segmentsDestroyed.Add(1)
	if err != nil {
		s.log.Warn("removing segment lock failed", zap.Error(err))
	}
	s.log.Info("destroyed shared segment")
	return nil
}
