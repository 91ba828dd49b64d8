package queue

import (
	"time"

	"listmailer/message"
)

// Outcome is the result of one send: a provider message id on success, an
// error detail on failure.
type Outcome struct {
	Email     string
	OK        bool
	MessageID string
	Detail    string
}

// Success returns a successful outcome for email.
func Success(email, messageID string) Outcome {
	return Outcome{Email: email, OK: true, MessageID: messageID}
}

// Failure returns a failed outcome for email.
func Failure(email, detail string) Outcome {
	return Outcome{Email: email, Detail: detail}
}

// FileResult records where a rendered message was written, or why it could
// not be.
type FileResult struct {
	Email    string
	Location string
	Err      error
}

// Mode is fixed for the whole run.
type Mode string

const (
	ModeSend   Mode = "send"
	ModeRender Mode = "render"
)

// State is the engine's position in a run.
type State int32

const (
	Idle State = iota
	Compiling
	Dispatching
	Rendering
	Drained
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Compiling:
		return "compiling"
	case Dispatching:
		return "dispatching"
	case Rendering:
		return "rendering"
	case Drained:
		return "drained"
	default:
		return "unknown"
	}
}

// Report collects everything a run produced. In send mode Outcomes holds
// exactly one entry per compiled message; in render mode Files does.
type Report struct {
	Mode           Mode
	Outcomes       []Outcome
	Files          []FileResult
	RenderFailures []*message.RenderError
	// Incomplete is set when at least one compiled message was never handed
	// to the transport.
	Incomplete bool
	Started    time.Time
	Finished   time.Time
}

// Succeeded counts successful sends or written files.
func (r *Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK {
			n++
		}
	}
	for _, f := range r.Files {
		if f.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts failed sends, failed writes and render failures.
func (r *Report) Failed() int {
	n := len(r.RenderFailures)
	for _, o := range r.Outcomes {
		if !o.OK {
			n++
		}
	}
	for _, f := range r.Files {
		if f.Err != nil {
			n++
		}
	}
	return n
}
