// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package palaver implements a message broker in memory shared among
// independent processes.
//
// Processes attach to a single shared store, create or join group
// conversations ("dialogs"), and broadcast short text messages to the other
// participants of a dialog. Each message is delivered at most once to each
// participant, and is removed from the store once every active participant
// has read it. There is no server: the store is a fixed-size block of shared
// memory, and every operation runs under one lock shared by all attached
// processes.
//
// # Stores
//
// The core type defined by this package is the [Store], one process's handle
// to the shared store. To attach, creating the store if necessary:
//
//	s, err := palaver.Attach(true, nil)
//	if err != nil {
//	   log.Fatalf("Attach: %v", err)
//	}
//	defer s.Detach()
//
// A nil *[Options] uses the default segment name and the ID of the current
// process. Set [Options.ProcessID] to give a handle a different identity, for
// example to simulate several processes in one test.
//
// # Dialogs
//
// A process creates a dialog with [Store.CreateDialog], which reports the ID
// of the new dialog. Other processes join it with [Store.JoinDialog]:
//
//	id, err := s.CreateDialog(os.Getpid())
//	...
//	err := s.JoinDialog(id, os.Getpid())
//
// Use [Store.ListActiveDialogs] to discover the dialogs currently open.
//
// # Messages
//
// To broadcast a message to the participants of a dialog:
//
//	err := s.Send(id, "hello, world")
//
// Delivery is by polling. Each participant calls [Store.Receive] from time to
// time to collect the messages it has not yet seen:
//
//	rep, err := s.Receive(id, os.Getpid())
//	for _, msg := range rep.Delivered {
//	   fmt.Printf("%d: %s\n", msg.Sender, msg.Text)
//	}
//
// The poll package provides a loop that does this on an interval.
//
// # Termination
//
// A message whose text is exactly [TerminateMarker] ends the dialog for each
// participant that receives it. When no participant of a dialog remains
// active, the dialog closes. When no dialog remains open, the last process to
// leave removes the shared store from the system; other processes still
// attached then get [ErrSegmentUnavailable] from their next operation. The
// [Report] returned by Receive says which of these happened.
//
// If a process exits without closing its dialogs the store may be left
// behind. Use [Destroy] to remove it.
//
// # Errors
//
// Errors reported by store operations match one of the kinds
// [ResourceExhausted], [NotFound], [Unavailable], or [InvalidArgument] under
// errors.Is, as well as the specific sentinel error reported.
//
// # Metrics
//
// Stores maintain a collection of metrics. Use the [Store.Metrics] method to
// obtain an [expvar.Map] containing the metrics, which are shared by all the
// stores in a process:
//
//   - dialogs_created: counter of dialogs created
//   - dialogs_joined: counter of successful joins
//   - dialogs_closed: counter of dialogs closed by termination
//   - messages_sent: counter of messages queued
//   - messages_delivered: counter of messages delivered to a participant
//   - messages_reclaimed: counter of message slots freed
//   - sends_failed: counter of send operations that reported an error
//   - segments_destroyed: counter of stores removed by the last participant
package palaver
