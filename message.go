// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package palaver

import "go.uber.org/zap"

// A Delivery is a message delivered to a participant by Receive.
type Delivery struct {
	Sender int    // process ID of the sender
	Text   string // message text, at most MaxTextLen bytes
}

// IsTerminate reports whether d carries the terminate marker.
func (d Delivery) IsTerminate() bool { return d.Text == TerminateMarker }

// A Report describes the result of a call to Receive.
type Report struct {
	// Delivered are the messages not previously seen by the receiver, in slot
	// order. Slot order need not match the order in which they were sent.
	Delivered []Delivery

	// Terminated is true if a terminate marker was delivered. The receiver is
	// no longer an active participant of the dialog.
	Terminated bool

	// Closed is true if the receiver was the last active participant, and the
	// dialog has closed. Its ID will not be reused.
	Closed bool

	// Destroyed is true if the dialog was the last one open, and the shared
	// store has been removed from the system. The caller should Detach.
	Destroyed bool
}

// Send adds a message with the given text to the queue of dialog id. The
// sender of the message is the process ID of s. Text longer than MaxTextLen
// bytes is truncated at a UTF-8 boundary.
//
// Send reports ErrDialogNotFound if the dialog is not active, and ErrQueueFull
// if no message slot is free. In either case the store is not modified.
func (s *Store) Send(id int, text string) error {
	if !validID(id) {
		return opError("send", ErrInvalidID, nil)
	}
	err := s.withLock(func(m *layout) error {
		if m.findDialog(int64(id)) == nil {
			return ErrDialogNotFound
		}
		for i := range m.messages {
			msg := &m.messages[i]
			if msg.occupied {
				continue
			}
			*msg = messageRecord{dialog: int64(id), sender: int32(s.pid), occupied: true}
			msg.setText(text)
			return nil
		}
		return ErrQueueFull
	})
	if err != nil {
		storeMetrics.sendsFailed.Add(1)
		return opError("send", err, nil)
	}
	storeMetrics.messagesSent.Add(1)
	return nil
}

// Receive delivers to process pid every message of dialog id it has not
// already received, and records that pid has read them. A message is removed
// from the queue as soon as every active participant of its dialog has read
// it.
//
// If a delivered message is the terminate marker, pid becomes inactive in the
// dialog. If no participant remains active the dialog closes, and if no
// dialog remains open the shared store is destroyed. The report describes
// which of these occurred.
//
// If the dialog does not exist, or pid is not a participant, Receive returns
// an empty report without error.
func (s *Store) Receive(id, pid int) (*Report, error) {
	if !validID(id) || !validID(pid) {
		return nil, opError("receive", ErrInvalidID, nil)
	}
	rep := new(Report)
	var reclaimed int
	err := s.withLock(func(m *layout) error {
		d := m.findDialog(int64(id))
		if d == nil {
			return nil
		}
		me := d.participantIndex(int32(pid))
		if me < 0 {
			return nil
		}

		for i := range m.messages {
			msg := &m.messages[i]
			if !msg.occupied || msg.dialog != d.id || msg.readBy[me] {
				continue
			}
			msg.readBy[me] = true
			dv := Delivery{Sender: int(msg.sender), Text: msg.textString()}
			rep.Delivered = append(rep.Delivered, dv)

			if dv.IsTerminate() {
				d.parts[me].active = false
				rep.Terminated = true
			}
			if d.readByAllActive(msg) {
				msg.occupied = false
				reclaimed++
			}
		}
		if !rep.Terminated || d.anyActive() {
			return nil
		}

		// No one is left to read what remains of the dialog.
		reclaimed += m.purge(d)
		d.active = false
		rep.Closed = true
		s.log.Debug("closed dialog", zap.Int("dialog", id))

		if m.anyActive() {
			return nil
		}
		if err := s.destroyLocked(m); err != nil {
			// The dialog is closed regardless. The store is intact and empty,
			// and an administrator can remove it with Destroy.
			s.log.Warn("destroying shared segment failed", zap.Error(err))
			return nil
		}
		rep.Destroyed = true
		return nil
	})
	if err != nil {
		return nil, opError("receive", err, nil)
	}
	storeMetrics.messagesDelivered.Add(int64(len(rep.Delivered)))
	storeMetrics.messagesReclaimed.Add(int64(reclaimed))
	if rep.Closed {
		storeMetrics.dialogsClosed.Add(1)
	}
	return rep, nil
}

// purge frees every occupied message slot of dialog d, and returns the
// number of slots freed.
func (m *layout) purge(d *dialogRecord) int {
	var n int
	for i := range m.messages {
		if msg := &m.messages[i]; msg.occupied && msg.dialog == d.id {
			msg.occupied = false
			n++
		}
	}
	return n
}

// Pending reports the number of messages of dialog id still in the queue,
// that is, not yet read by every active participant. If id == 0, Pending
// reports the number of messages in the queue for all dialogs.
func (s *Store) Pending(id int) (int, error) {
	var n int
	err := s.withLock(func(m *layout) error {
		for i := range m.messages {
			if msg := &m.messages[i]; msg.occupied && (id == 0 || msg.dialog == int64(id)) {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, opError("pending", err, nil)
	}
	return n, nil
}
