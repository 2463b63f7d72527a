// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/creachadair/mds/value"
	"golang.org/x/sys/unix"
)

// A Segment is an open mapping of a shared block and a handle to its lock.
// A Segment is safe for concurrent use by multiple goroutines; Lock excludes
// both other goroutines sharing the Segment and other processes.
type Segment struct {
	cfg     Config
	created bool

	// Held from a successful Lock until the matching Unlock, and by Close.
	μ sync.Mutex

	closed bool
	mem    []byte
	data   *os.File
	lock   *os.File
}

// Open opens or creates the segment described by c and maps it into the
// address space of the caller.
//
// If c.Create is false, the segment must already exist. Errors opening or
// mapping the block wrap [ErrUnavailable]; errors opening the lock file wrap
// [ErrLockUnavailable].
func Open(c Config) (*Segment, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	for {
		if c.Create {
			s, err := create(c)
			if err == nil {
				return s, nil
			} else if !errors.Is(err, os.ErrExist) {
				return nil, err
			}
			// The segment already exists, or another process published it first.
		}
		s, err := open(c)
		if errors.Is(err, errStale) {
			continue // removed while we were opening it; start over
		}
		return s, err
	}
}

// errStale is reported by open when the files it opened were removed before
// it could verify them.
var errStale = errors.New("segment removed while opening")

// lockFile opens the lock file of c and acquires it exclusively. If the file
// is unlinked while lockFile waits, it retries with the file now at the path.
func lockFile(c Config, flag int) (*os.File, error) {
	for {
		lf, err := os.OpenFile(c.LockPath(), flag, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLockUnavailable, err)
		}
		if err := flock(lf, unix.LOCK_EX); err != nil {
			lf.Close()
			return nil, fmt.Errorf("%w: %w", ErrLockUnavailable, err)
		}
		if !removed(lf) {
			return lf, nil
		}
		lf.Close() // releases the lock
	}
}

func create(c Config) (*Segment, error) {
	lf, err := lockFile(c, os.O_RDWR|os.O_CREATE)
	if err != nil {
		return nil, err
	}
	defer flock(lf, unix.LOCK_UN)

	// Creators are serialized by the lock, so an existing block is complete.
	if _, err := os.Stat(c.DataPath()); err == nil {
		lf.Close()
		return nil, os.ErrExist
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.DataPath()), "palaver-"+c.Name+".*.tmp")
	if err != nil {
		lf.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer os.Remove(tmp.Name()) // the published link keeps the file alive

	fail := func(mem []byte, err error) (*Segment, error) {
		if mem != nil {
			unix.Munmap(mem)
		}
		tmp.Close()
		lf.Close()
		return nil, err
	}
	if err := tmp.Truncate(int64(c.Size)); err != nil {
		return fail(nil, fmt.Errorf("%w: resize: %w", ErrUnavailable, err))
	}
	mem, err := mmapFile(tmp, c.Size)
	if err != nil {
		return fail(nil, err)
	}
	if c.Init != nil {
		if err := c.Init(mem); err != nil {
			return fail(mem, fmt.Errorf("%w: initialize: %w", ErrUnavailable, err))
		}
	}
	if err := os.Link(tmp.Name(), c.DataPath()); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fail(mem, os.ErrExist)
		}
		return fail(mem, fmt.Errorf("%w: publish: %w", ErrUnavailable, err))
	}
	return &Segment{cfg: c, created: true, mem: mem, data: tmp, lock: lf}, nil
}

func open(c Config) (*Segment, error) {
	df, err := os.OpenFile(c.DataPath(), os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	fi, err := df.Stat()
	if err != nil {
		df.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	} else if fi.Size() != int64(c.Size) {
		df.Close()
		return nil, fmt.Errorf("%w: segment size is %d bytes, want %d", ErrUnavailable, fi.Size(), c.Size)
	}
	mem, err := mmapFile(df, c.Size)
	if err != nil {
		df.Close()
		return nil, err
	}

	lf, err := lockFile(c, os.O_RDWR|value.Cond(c.Create, os.O_CREATE, 0))
	if err != nil {
		unix.Munmap(mem)
		df.Close()
		if c.Create || !removed(df) {
			return nil, err
		}
		return nil, errStale // the lock file went away with the data
	}
	defer flock(lf, unix.LOCK_UN)

	// Removal happens under the lock, so a block still linked now is live.
	if removed(df) {
		unix.Munmap(mem)
		df.Close()
		lf.Close()
		return nil, errStale
	}
	return &Segment{cfg: c, mem: mem, data: df, lock: lf}, nil
}

// Config returns the configuration s was opened with.
func (s *Segment) Config() Config { return s.cfg }

// Created reports whether s was created (and initialized) by this Open.
func (s *Segment) Created() bool { return s.created }

// Bytes returns the mapped contents of the shared block. The caller must hold
// the lock while reading or writing the contents, and must not retain the
// slice after s is closed.
func (s *Segment) Bytes() []byte { return s.mem }

// Lock acquires exclusive access to the segment, blocking until it is
// available. There is no timeout. If Lock succeeds the caller must call
// Unlock.
//
// If s is closed, Lock reports [ErrClosed]. If the segment was removed while
// s was waiting for or before acquiring the lock, Lock reports [ErrRemoved]
// and the lock is not held.
func (s *Segment) Lock() error {
	s.μ.Lock()
	if s.closed {
		s.μ.Unlock()
		return ErrClosed
	}
	if err := flock(s.lock, unix.LOCK_EX); err != nil {
		s.μ.Unlock()
		return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	if removed(s.data) || removed(s.lock) {
		flock(s.lock, unix.LOCK_UN)
		s.μ.Unlock()
		return ErrRemoved
	}
	return nil
}

// Unlock releases the lock acquired by a successful call to Lock.
func (s *Segment) Unlock() {
	flock(s.lock, unix.LOCK_UN)
	s.μ.Unlock()
}

// Removed reports whether the shared block of s no longer has a name in the
// filesystem. The caller must hold the lock.
func (s *Segment) Removed() bool { return removed(s.data) }

// Remove removes the files of s from the system. It is safe to call Remove
// while holding the lock; other processes waiting for the lock will then
// observe [ErrRemoved] when they acquire it.
func (s *Segment) Remove() error { return Remove(s.cfg) }

// Close unmaps the block and closes the handle to the lock. It does not
// remove the segment. Close waits for a concurrent holder of the lock to
// release it. Closing a closed segment does nothing and reports nil.
func (s *Segment) Close() error {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	merr := unix.Munmap(s.mem)
	s.mem = nil
	derr := s.data.Close()
	lerr := s.lock.Close()
	return errors.Join(merr, derr, lerr)
}

func mmapFile(f *os.File, size int) ([]byte, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap: %w", ErrUnavailable, err)
	}
	return mem, nil
}

// flock applies the flock(2) operation how to f, retrying if interrupted.
func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}

// removed reports whether f no longer has a name in the filesystem.
func removed(f *os.File) bool {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return true
	}
	return st.Nlink == 0
}
