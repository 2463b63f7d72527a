// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package segment manages a fixed-size block of memory shared among
// unrelated processes, together with a named lock that serializes access to
// it.
//
// A segment is identified by a name and a directory. The block lives in a
// file named "palaver-<name>.seg" and is mapped into each attached process
// with MAP_SHARED. The lock is an exclusive advisory lock on the sibling file
// "palaver-<name>.lock". By default the directory is /dev/shm if it exists,
// otherwise the system temporary directory.
//
// Creation is atomic: the creator sizes and initializes the block under a
// private name, then publishes it with a hard link. An attacher that finds
// the block therefore always sees it fully initialized.
//
// Removing a segment unlinks both files. Processes that still hold a mapping
// are not disturbed until their next call to Lock, which reports
// [ErrRemoved].
package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrUnavailable is reported when the shared block cannot be created,
	// opened, or mapped.
	ErrUnavailable = errors.New("segment unavailable")

	// ErrLockUnavailable is reported when the lock file cannot be created or
	// opened.
	ErrLockUnavailable = errors.New("segment lock unavailable")

	// ErrRemoved is reported by Lock when the segment has been removed since
	// it was opened. It wraps ErrUnavailable.
	ErrRemoved = fmt.Errorf("%w: segment removed", ErrUnavailable)

	// ErrClosed is reported by operations on a closed segment. It wraps
	// ErrUnavailable.
	ErrClosed = fmt.Errorf("%w: segment closed", ErrUnavailable)
)

// Config describes a segment to open.
type Config struct {
	Name string // segment key (required)
	Dir  string // directory for the segment files; "" means the default
	Size int    // size of the block in bytes (required, > 0)

	// Create, if true, creates the segment if it does not already exist.
	// If the segment exists it is opened as-is.
	Create bool

	// Init, if set, is called to initialize a newly-created block before it is
	// published to other processes. It is not called when an existing segment
	// is opened. If Init reports an error, the new segment is discarded.
	Init func(mem []byte) error
}

func (c Config) dir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return DefaultDir()
}

// DataPath returns the path of the file holding the shared block.
func (c Config) DataPath() string {
	return filepath.Join(c.dir(), "palaver-"+c.Name+".seg")
}

// LockPath returns the path of the lock file.
func (c Config) LockPath() string {
	return filepath.Join(c.dir(), "palaver-"+c.Name+".lock")
}

func (c Config) check() error {
	if c.Name == "" {
		return fmt.Errorf("%w: empty segment name", ErrUnavailable)
	} else if c.Size <= 0 {
		return fmt.Errorf("%w: invalid segment size %d", ErrUnavailable, c.Size)
	}
	return nil
}

// DefaultDir returns the directory used for segments when none is specified.
// It prefers /dev/shm when it is available.
func DefaultDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Remove removes the segment files described by c from the system.  It is
// not an error if they do not exist. Processes with the segment open are not
// affected until they next call Lock.
func Remove(c Config) error {
	derr := removeIfExists(c.DataPath())
	lerr := removeIfExists(c.LockPath())
	return errors.Join(derr, lerr)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
