// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package segment_test

import (
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creachadair/palaver/segment"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
)

const testSize = 4096

func testConfig(t *testing.T) segment.Config {
	t.Helper()
	return segment.Config{Name: "test", Dir: t.TempDir(), Size: testSize}
}

func mustOpen(t *testing.T, c segment.Config) *segment.Segment {
	t.Helper()
	s, err := segment.Open(c)
	if err != nil {
		t.Fatalf("Open %q: unexpected error: %v", c.Name, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		s, err := segment.Open(testConfig(t))
		if !errors.Is(err, segment.ErrUnavailable) {
			t.Errorf("Open: got (%v, %v), want %v", s, err, segment.ErrUnavailable)
		}
	})

	t.Run("BadConfig", func(t *testing.T) {
		for _, c := range []segment.Config{
			{Size: testSize, Create: true},
			{Name: "x", Size: 0, Create: true},
		} {
			if _, err := segment.Open(c); !errors.Is(err, segment.ErrUnavailable) {
				t.Errorf("Open %+v: got %v, want %v", c, err, segment.ErrUnavailable)
			}
		}
	})

	t.Run("CreateOnce", func(t *testing.T) {
		c := testConfig(t)
		c.Create = true

		var inits int
		c.Init = func(mem []byte) error {
			inits++
			copy(mem, "hello")
			return nil
		}
		s1 := mustOpen(t, c)
		if !s1.Created() {
			t.Error("First open: segment was not created")
		}
		s2 := mustOpen(t, c)
		if s2.Created() {
			t.Error("Second open: segment was created again")
		}
		if inits != 1 {
			t.Errorf("Init called %d times, want 1", inits)
		}
		if got := string(s2.Bytes()[:5]); got != "hello" {
			t.Errorf("Second open: got %q, want hello", got)
		}

		// Writes through one mapping are visible through the other.
		copy(s1.Bytes(), "HELLO")
		if got := string(s2.Bytes()[:5]); got != "HELLO" {
			t.Errorf("Shared write: got %q, want HELLO", got)
		}

		// No temporary files are left behind.
		ents, err := os.ReadDir(c.Dir)
		if err != nil {
			t.Fatalf("ReadDir: %v", err)
		}
		if len(ents) != 2 {
			var names []string
			for _, e := range ents {
				names = append(names, e.Name())
			}
			t.Errorf("Segment files: got %q, want data and lock", names)
		}
	})

	t.Run("InitFails", func(t *testing.T) {
		c := testConfig(t)
		c.Create = true
		c.Init = func([]byte) error { return errors.New("bad init") }

		if _, err := segment.Open(c); !errors.Is(err, segment.ErrUnavailable) {
			t.Errorf("Open: got %v, want %v", err, segment.ErrUnavailable)
		}
		if _, err := os.Stat(c.DataPath()); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Stat data: got %v, want not exist", err)
		}
	})

	t.Run("SizeMismatch", func(t *testing.T) {
		c := testConfig(t)
		c.Create = true
		mustOpen(t, c)

		c.Size = 2 * testSize
		if _, err := segment.Open(c); !errors.Is(err, segment.ErrUnavailable) {
			t.Errorf("Open wrong size: got %v, want %v", err, segment.ErrUnavailable)
		}
	})
}

func TestLock(t *testing.T) {
	defer leaktest.Check(t)()

	c := testConfig(t)
	c.Create = true
	s1 := mustOpen(t, c)
	s2 := mustOpen(t, c)

	// Each worker increments a counter in the shared block non-atomically
	// while holding the lock. If the lock does not exclude, updates are lost.
	const numWorkers = 8
	const numIncr = 200

	var held atomic.Int32
	g := taskgroup.New(nil)
	for i := range numWorkers {
		s := s1
		if i%2 == 1 {
			s = s2
		}
		g.Go(func() error {
			for range numIncr {
				if err := s.Lock(); err != nil {
					return err
				}
				if n := held.Add(1); n != 1 {
					t.Errorf("Lock held by %d goroutines", n)
				}
				mem := s.Bytes()
				mem[0]++
				if mem[0] == 0 {
					mem[1]++
				}
				held.Add(-1)
				s.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Lock: unexpected error: %v", err)
	}

	mem := s1.Bytes()
	if got := int(mem[1])<<8 | int(mem[0]); got != numWorkers*numIncr {
		t.Errorf("Counter: got %d, want %d", got, numWorkers*numIncr)
	}
}

func TestRemove(t *testing.T) {
	defer leaktest.Check(t)()

	c := testConfig(t)
	c.Create = true
	s1 := mustOpen(t, c)
	s2 := mustOpen(t, c)

	// Hold the lock in s2 while s1 removes the segment. A waiter on s2 must
	// observe the removal once the lock is released.
	if err := s2.Lock(); err != nil {
		t.Fatalf("Lock: unexpected error: %v", err)
	}
	waiter := taskgroup.Go(func() error {
		if err := s1.Lock(); err == nil {
			s1.Unlock()
			return errors.New("lock succeeded after remove")
		} else if !errors.Is(err, segment.ErrRemoved) {
			return err
		}
		return nil
	})
	time.Sleep(10 * time.Millisecond)
	if err := s2.Remove(); err != nil {
		t.Errorf("Remove: unexpected error: %v", err)
	}
	s2.Unlock()
	if err := waiter.Wait(); err != nil {
		t.Errorf("Waiter: %v", err)
	}

	if err := s2.Lock(); !errors.Is(err, segment.ErrRemoved) {
		t.Errorf("Lock after remove: got %v, want %v", err, segment.ErrRemoved)
	}
	if !errors.Is(segment.ErrRemoved, segment.ErrUnavailable) {
		t.Errorf("ErrRemoved does not wrap %v", segment.ErrUnavailable)
	}

	// Removal is idempotent.
	if err := segment.Remove(c); err != nil {
		t.Errorf("Remove again: unexpected error: %v", err)
	}

	c.Create = false
	if _, err := segment.Open(c); !errors.Is(err, segment.ErrUnavailable) {
		t.Errorf("Open removed: got %v, want %v", err, segment.ErrUnavailable)
	}
}

func TestClose(t *testing.T) {
	c := testConfig(t)
	c.Create = true
	s, err := segment.Open(c)
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close: unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close again: unexpected error: %v", err)
	}
	if err := s.Lock(); !errors.Is(err, segment.ErrClosed) {
		t.Errorf("Lock after close: got %v, want %v", err, segment.ErrClosed)
	}

	// Closing does not remove the segment.
	c.Create = false
	mustOpen(t, c)
}

func TestCreateRacingRemove(t *testing.T) {
	defer leaktest.Check(t)()

	c := testConfig(t)
	c.Create = true
	var inits atomic.Int32
	c.Init = func([]byte) error { inits.Add(1); return nil }
	old := mustOpen(t, c)

	// While the old segment is locked, a creator waits for the lock. The old
	// segment is then removed under the lock, as the last participant does.
	if err := old.Lock(); err != nil {
		t.Fatalf("Lock: unexpected error: %v", err)
	}
	var fresh *segment.Segment
	creator := taskgroup.Go(func() error {
		s, err := segment.Open(c)
		fresh = s
		return err
	})
	time.Sleep(10 * time.Millisecond)
	if err := old.Remove(); err != nil {
		t.Errorf("Remove: unexpected error: %v", err)
	}
	old.Unlock()

	if err := creator.Wait(); err != nil {
		t.Fatalf("Open racing remove: unexpected error: %v", err)
	}
	defer fresh.Close()
	if !fresh.Created() {
		t.Error("Open racing remove: segment was not created")
	}
	if n := inits.Load(); n != 2 {
		t.Errorf("Init called %d times, want 2", n)
	}

	// The new segment is complete: both files exist, and others can use it.
	for _, path := range []string{c.DataPath(), c.LockPath()} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Stat %q: %v", path, err)
		}
	}
	c.Create = false
	other := mustOpen(t, c)
	if err := other.Lock(); err != nil {
		t.Fatalf("Lock new segment: unexpected error: %v", err)
	}
	other.Unlock()
	if err := fresh.Lock(); err != nil {
		t.Fatalf("Lock new segment: unexpected error: %v", err)
	}
	if fresh.Removed() {
		t.Error("New segment reports removed")
	}
	fresh.Unlock()

	if err := old.Lock(); !errors.Is(err, segment.ErrRemoved) {
		t.Errorf("Lock old segment: got %v, want %v", err, segment.ErrRemoved)
	}
}

func TestOpenAfterRemove(t *testing.T) {
	c := testConfig(t)
	c.Create = true
	old := mustOpen(t, c)

	// An attacher that does not create must not find a removed segment, nor
	// leave a lock file behind.
	if err := old.Remove(); err != nil {
		t.Fatalf("Remove: unexpected error: %v", err)
	}
	c.Create = false
	if s, err := segment.Open(c); !errors.Is(err, segment.ErrUnavailable) {
		if err == nil {
			s.Close()
		}
		t.Errorf("Open removed: got %v, want %v", err, segment.ErrUnavailable)
	}
	if _, err := os.Stat(c.LockPath()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Stat lock: got %v, want not exist", err)
	}
}
