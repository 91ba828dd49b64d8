package delivery

import (
	"context"
	"errors"
	"net"

	"listmailer/message"
)

// ErrTransportConfig indicates the selected provider cannot be built from the
// supplied credentials or settings.
var ErrTransportConfig = errors.New("transport configuration error")

// Capabilities describes how a transport expects to be driven.
type Capabilities struct {
	// SelfThrottled transports pace themselves; callers may issue sends
	// concurrently. Others must be paced by the caller.
	SelfThrottled bool
	// ASCIIHeaders transports put headers on the wire verbatim and need
	// non-ASCII display names encoded.
	ASCIIHeaders bool
}

// Transport sends one compiled message.
type Transport interface {
	// Name identifies the provider in logs and reports.
	Name() string
	Capabilities() Capabilities
	// Send delivers msg and returns the provider's message id. Send may block
	// on network I/O; every failure is returned as an error.
	Send(ctx context.Context, msg *message.Message) (string, error)
}

// Detail renders a send error for the delivery report. Deadline and
// network timeouts are reported as "timeout".
func Detail(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return err.Error()
}
