// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package palaver

import (
	"math"

	"go.uber.org/zap"
)

// A Participant is the membership of one process in a dialog.
type Participant struct {
	ProcessID int
	Active    bool // false once the process has received the terminate marker
}

// DialogInfo is a snapshot of an active dialog.
type DialogInfo struct {
	ID int

	// Participants are in join order. The position of a participant is stable
	// for the life of the dialog, and participants are never removed.
	Participants []Participant
}

// Len reports the number of participants that have joined the dialog.
func (d DialogInfo) Len() int { return len(d.Participants) }

func (d *dialogRecord) info() DialogInfo {
	out := DialogInfo{ID: int(d.id), Participants: make([]Participant, d.count)}
	for i, p := range d.parts[:d.count] {
		out.Participants[i] = Participant{ProcessID: int(p.pid), Active: p.active}
	}
	return out
}

func validID(id int) bool { return id > 0 && id <= math.MaxInt32 }

// CreateDialog creates a new dialog whose only participant is the process
// pid, and returns its ID. IDs are assigned in increasing order and are never
// reused while the store exists.
//
// If all dialog slots are in use, CreateDialog reports ErrNoFreeDialogSlot.
func (s *Store) CreateDialog(pid int) (int, error) {
	if !validID(pid) {
		return 0, opError("create dialog", ErrInvalidID, nil)
	}
	var id int
	err := s.withLock(func(m *layout) error {
		for i := range m.dialogs {
			d := &m.dialogs[i]
			if d.active {
				continue
			}
			*d = dialogRecord{id: m.nextID, active: true, count: 1}
			d.parts[0] = participant{pid: int32(pid), active: true}
			m.nextID++
			id = int(d.id)
			return nil
		}
		return ErrNoFreeDialogSlot
	})
	if err != nil {
		return 0, opError("create dialog", err, nil)
	}
	storeMetrics.dialogsCreated.Add(1)
	s.log.Debug("created dialog", zap.Int("dialog", id), zap.Int("owner", pid))
	return id, nil
}

// JoinDialog adds the process pid as a new participant of dialog id.
//
// JoinDialog reports ErrDialogNotFound if the dialog is not active,
// ErrDialogFull if it already has MaxParticipants participants, and
// ErrAlreadyJoined if pid has already joined it.
func (s *Store) JoinDialog(id, pid int) error {
	if !validID(id) || !validID(pid) {
		return opError("join dialog", ErrInvalidID, nil)
	}
	err := s.withLock(func(m *layout) error {
		d := m.findDialog(int64(id))
		if d == nil {
			return ErrDialogNotFound
		} else if d.participantIndex(int32(pid)) >= 0 {
			return ErrAlreadyJoined
		} else if d.count >= MaxParticipants {
			return ErrDialogFull
		}

		// Participant slots are append-only: the index of a participant is its
		// bit position in the readBy of every message of the dialog.
		d.parts[d.count] = participant{pid: int32(pid), active: true}
		d.count++
		return nil
	})
	if err != nil {
		return opError("join dialog", err, nil)
	}
	storeMetrics.dialogsJoined.Add(1)
	s.log.Debug("joined dialog", zap.Int("dialog", id), zap.Int("member", pid))
	return nil
}

// ListActiveDialogs returns a snapshot of all active dialogs, in slot order.
func (s *Store) ListActiveDialogs() ([]DialogInfo, error) {
	var out []DialogInfo
	err := s.withLock(func(m *layout) error {
		for i := range m.dialogs {
			if d := &m.dialogs[i]; d.active {
				out = append(out, d.info())
			}
		}
		return nil
	})
	if err != nil {
		return nil, opError("list dialogs", err, nil)
	}
	return out, nil
}

// Lookup returns a snapshot of dialog id and reports whether it is active.
// A dialog that does not exist or has closed is not an error.
func (s *Store) Lookup(id int) (DialogInfo, bool, error) {
	var out DialogInfo
	var ok bool
	err := s.withLock(func(m *layout) error {
		if d := m.findDialog(int64(id)); d != nil {
			out, ok = d.info(), true
		}
		return nil
	})
	if err != nil {
		return DialogInfo{}, false, opError("lookup dialog", err, nil)
	}
	return out, ok, nil
}
