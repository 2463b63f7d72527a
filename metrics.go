// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package palaver

import "expvar"

// metrics record store activity counters for this process.
type metrics struct {
	dialogsCreated    expvar.Int
	dialogsJoined     expvar.Int
	dialogsClosed     expvar.Int
	messagesSent      expvar.Int
	messagesDelivered expvar.Int // one per (message, participant) delivery
	messagesReclaimed expvar.Int
	sendsFailed       expvar.Int
	segmentsDestroyed expvar.Int

	emap *expvar.Map
}

var storeMetrics = newMetrics()

func newMetrics() *metrics {
	m := &metrics{emap: new(expvar.Map)}
	m.emap.Set("dialogs_created", &m.dialogsCreated)
	m.emap.Set("dialogs_joined", &m.dialogsJoined)
	m.emap.Set("dialogs_closed", &m.dialogsClosed)
	m.emap.Set("messages_sent", &m.messagesSent)
	m.emap.Set("messages_delivered", &m.messagesDelivered)
	m.emap.Set("messages_reclaimed", &m.messagesReclaimed)
	m.emap.Set("sends_failed", &m.sendsFailed)
	m.emap.Set("segments_destroyed", &m.segmentsDestroyed)
	return m
}
