// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package palaver

import (
	"bytes"
	"fmt"
	"unsafe"
)

// Capacities of the shared store. These are fixed: every process attached to
// a segment must agree on them.
const (
	MaxDialogs      = 10  // dialogs open at once
	MaxParticipants = 10  // participants per dialog, over its lifetime
	MaxMessages     = 100 // messages in flight across all dialogs
	MaxTextLen      = 255 // bytes of message text
)

// TerminateMarker is the message text that signals termination. A participant
// that receives it becomes inactive in the dialog. It is distinguished from
// ordinary text only by convention: a message whose text is exactly this
// string is a termination signal.
const TerminateMarker = "TERMINATE"

// The shared store is a single pointer-free value, overlaid on the mapped
// segment. Every process maps it at its own address, so nothing inside it may
// refer to memory by address; slot indexes are used instead.
//
//	header
//	dialogs  [MaxDialogs]dialogRecord
//	messages [MaxMessages]messageRecord
type layout struct {
	header
	dialogs  [MaxDialogs]dialogRecord
	messages [MaxMessages]messageRecord
}

const (
	layoutMagic   = "PALAVER\x00"
	layoutVersion = 1
	layoutSize    = int(unsafe.Sizeof(layout{}))
)

type header struct {
	magic     [8]byte
	version   uint32
	destroyed uint32 // set to 1 before the segment is removed
	size      uint64 // layoutSize, as seen by the creator
	nextID    int64  // next dialog ID to assign; never reused
}

type participant struct {
	pid    int32
	active bool
}

type dialogRecord struct {
	id     int64
	active bool
	count  int32 // number of meaningful entries in parts
	parts  [MaxParticipants]participant
}

type messageRecord struct {
	dialog   int64
	sender   int32
	occupied bool
	textLen  uint16
	readBy   [MaxParticipants]bool // indexed by participant slot
	text     [MaxTextLen]byte
}

// overlay returns a view of mem as a layout. It panics if mem is too small.
func overlay(mem []byte) *layout {
	if len(mem) < layoutSize {
		panic(fmt.Sprintf("segment too small: %d < %d bytes", len(mem), layoutSize))
	}
	return (*layout)(unsafe.Pointer(&mem[0]))
}

// initLayout initializes a freshly-created store. No dialog is active and no
// message slot is occupied.
func initLayout(mem []byte) error {
	m := overlay(mem)
	*m = layout{}
	copy(m.magic[:], layoutMagic)
	m.version = layoutVersion
	m.size = uint64(layoutSize)
	m.nextID = 1
	return nil
}

// check reports whether m looks like a store this package can use.
func (m *layout) check() error {
	if !bytes.Equal(m.magic[:], []byte(layoutMagic)) {
		return fmt.Errorf("invalid store magic %q", m.magic[:])
	} else if m.version != layoutVersion {
		return fmt.Errorf("unsupported store version %d", m.version)
	} else if m.size != uint64(layoutSize) {
		return fmt.Errorf("store size is %d bytes, want %d", m.size, layoutSize)
	} else if m.destroyed != 0 {
		return fmt.Errorf("store has been destroyed")
	}
	return nil
}

// findDialog returns the active dialog with the given ID, or nil.
func (m *layout) findDialog(id int64) *dialogRecord {
	for i := range m.dialogs {
		if d := &m.dialogs[i]; d.active && d.id == id {
			return d
		}
	}
	return nil
}

// anyActive reports whether any dialog slot is active.
func (m *layout) anyActive() bool {
	for i := range m.dialogs {
		if m.dialogs[i].active {
			return true
		}
	}
	return false
}

// participantIndex returns the slot index of pid in d, or -1.
func (d *dialogRecord) participantIndex(pid int32) int {
	for i := range d.count {
		if d.parts[i].pid == pid {
			return int(i)
		}
	}
	return -1
}

// anyActive reports whether any participant of d is still active.
func (d *dialogRecord) anyActive() bool {
	for _, p := range d.parts[:d.count] {
		if p.active {
			return true
		}
	}
	return false
}

// readByAllActive reports whether every active participant of d has read msg.
// Inactive participants are ignored.
func (d *dialogRecord) readByAllActive(msg *messageRecord) bool {
	for i, p := range d.parts[:d.count] {
		if p.active && !msg.readBy[i] {
			return false
		}
	}
	return true
}

func (msg *messageRecord) setText(s string) {
	s = truncate(s, MaxTextLen)
	msg.textLen = uint16(copy(msg.text[:], s))
}

func (msg *messageRecord) textString() string { return string(msg.text[:msg.textLen]) }

// truncate returns a prefix of a UTF-8 string s, having length no greater than
// n bytes.  If s exceeds this length, it is truncated at a point ≤ n so that
// the result does not end in a partial UTF-8 encoding.
func truncate(s string, n int) string {
	if n >= len(s) {
		return s
	}

	// Back up until we find the beginning of a UTF-8 encoding.
	for n > 0 && s[n-1]&0xc0 == 0x80 { // 0x10... is a continuation byte
		n--
	}

	// If we're at the beginning of a multi-byte encoding, back up one more to
	// skip it.
	if n > 0 && s[n-1]&0xc0 == 0xc0 { // 0x11... starts a multibyte encoding
		n--
	}
	return s[:n]
}
