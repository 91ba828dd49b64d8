package metrics

import "expvar"

var (
	MessagesCompiled = expvar.NewInt("listmailer_messages_compiled_total")
	RenderFailures   = expvar.NewInt("listmailer_render_failures_total")
	MessagesSent     = expvar.NewInt("listmailer_messages_sent_total")
	SendFailures     = expvar.NewInt("listmailer_send_failures_total")
	FilesWritten     = expvar.NewInt("listmailer_files_written_total")
	queueDepth       = expvar.NewInt("listmailer_queue_depth")
	inFlight         = expvar.NewInt("listmailer_sends_in_flight")
)

// SetQueueDepth records the number of messages still waiting to be claimed.
func SetQueueDepth(n int) {
	queueDepth.Set(int64(n))
}

// QueueDepth returns the last recorded queue depth.
func QueueDepth() int64 {
	return queueDepth.Value()
}

// IncInFlight marks the start of a send.
func IncInFlight() {
	inFlight.Add(1)
}

// DecInFlight marks the end of a send.
func DecInFlight() {
	inFlight.Add(-1)
}

// InFlight returns the number of sends currently waiting on the transport.
func InFlight() int64 {
	return inFlight.Value()
}

// ResetForTests clears counters; intended for use in tests only.
func ResetForTests() {
	MessagesCompiled.Set(0)
	RenderFailures.Set(0)
	MessagesSent.Set(0)
	SendFailures.Set(0)
	FilesWritten.Set(0)
	queueDepth.Set(0)
	inFlight.Set(0)
}
