package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"listmailer/delivery"
	"listmailer/internal/metrics"
	"listmailer/message"
	"listmailer/storage"
)

const minInterval = time.Millisecond

// ErrNoSink is returned by Run when the engine has neither a transport nor a
// writer.
var ErrNoSink = errors.New("queue: no transport or writer configured")

// Compiler builds the message for one recipient.
type Compiler interface {
	Compile(meta message.ListMetadata, rcpt message.Recipient) (*message.Message, error)
}

// Engine compiles a recipient list into a queue and drains it, either
// through a transport or into a storage writer.
type Engine struct {
	compiler  Compiler
	transport delivery.Transport
	writer    storage.Writer
	interval  time.Duration
	fanout    int
	timeout   time.Duration
	log       zerolog.Logger
	state     atomic.Int32
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransport selects send mode.
func WithTransport(t delivery.Transport) Option {
	return func(e *Engine) { e.transport = t }
}

// WithWriter selects render mode. A transport, when also set, wins.
func WithWriter(w storage.Writer) Option {
	return func(e *Engine) { e.writer = w }
}

// WithInterval sets the spacing between dispatch starts for transports that
// do not pace themselves. Values below one millisecond are raised to it.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithFanout bounds the number of sends in flight.
func WithFanout(n int) Option {
	return func(e *Engine) { e.fanout = n }
}

// WithSendTimeout bounds each send. Zero leaves timeouts to the transport.
func WithSendTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine returns an idle engine.
func NewEngine(compiler Compiler, opts ...Option) *Engine {
	e := &Engine{
		compiler: compiler,
		fanout:   1,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fanout < 1 {
		e.fanout = 1
	}
	return e
}

// State reports where the current or last run is.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.log.Debug().Stringer("state", s).Msg("engine state")
}

// Run compiles every recipient and drains the resulting queue. Render
// failures and per-recipient send or write failures are recorded in the
// report; only a misconfigured engine returns an error.
func (e *Engine) Run(ctx context.Context, meta message.ListMetadata, recipients []message.Recipient) (*Report, error) {
	if e.transport == nil && e.writer == nil {
		return nil, ErrNoSink
	}

	rep := &Report{Mode: ModeRender, Started: time.Now()}
	if e.transport != nil {
		rep.Mode = ModeSend
	}

	e.setState(Compiling)
	q, emails := e.compile(meta, recipients, rep)

	if rep.Mode == ModeSend {
		e.setState(Dispatching)
		e.dispatch(ctx, q, emails, rep)
	} else {
		e.setState(Rendering)
		e.render(ctx, q, emails, rep)
	}

	rep.Finished = time.Now()
	e.setState(Drained)
	e.log.Info().
		Str("mode", string(rep.Mode)).
		Int("succeeded", rep.Succeeded()).
		Int("failed", rep.Failed()).
		Bool("incomplete", rep.Incomplete).
		Dur("elapsed", rep.Finished.Sub(rep.Started)).
		Msg("run finished")
	return rep, nil
}

// compile fills a fresh queue. emails maps each slot to its recipient.
func (e *Engine) compile(meta message.ListMetadata, recipients []message.Recipient, rep *Report) (*Queue, []string) {
	q := NewQueue()
	emails := make([]string, 0, len(recipients))
	for _, rcpt := range recipients {
		msg, err := e.compiler.Compile(meta, rcpt)
		if err != nil {
			var rerr *message.RenderError
			if !errors.As(err, &rerr) {
				rerr = &message.RenderError{Email: rcpt.Email(), Row: rcpt.Row, Err: err}
			}
			rep.RenderFailures = append(rep.RenderFailures, rerr)
			metrics.RenderFailures.Add(1)
			e.log.Warn().Err(rerr.Err).Str("email", rerr.Email).Int("row", rerr.Row).Msg("render failed")
			continue
		}
		q.Push(msg)
		emails = append(emails, msg.To)
		metrics.MessagesCompiled.Add(1)
	}
	e.log.Debug().Int("queued", q.Pushed()).Int("render_failures", len(rep.RenderFailures)).Msg("compiled")
	return q, emails
}

func (e *Engine) dispatch(ctx context.Context, q *Queue, emails []string, rep *Report) {
	outcomes := make([]Outcome, len(emails))
	sent := make([]bool, len(emails))

	var limiter *rate.Limiter
	if !e.transport.Capabilities().SelfThrottled {
		limiter = rate.NewLimiter(rate.Every(max(minInterval, e.interval)), 1)
	}

	// A fan-out slot is held before the pacing permit is taken, so a send
	// starts as soon as its permit is granted.
	slots := semaphore.NewWeighted(int64(e.fanout))
	var g errgroup.Group
	for {
		msg, slot, ok := q.Pop()
		if !ok {
			break
		}
		if err := slots.Acquire(ctx, 1); err != nil {
			outcomes[slot] = Failure(msg.To, "not dispatched: "+err.Error())
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				slots.Release(1)
				outcomes[slot] = Failure(msg.To, "not dispatched: "+err.Error())
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			slots.Release(1)
			outcomes[slot] = Failure(msg.To, "not dispatched: "+err.Error())
			continue
		}
		e.log.Debug().Str("email", msg.To).Int("remaining", q.Len()).Msg("claimed")
		g.Go(func() error {
			defer slots.Release(1)
			outcomes[slot] = e.send(ctx, msg)
			sent[slot] = true
			return nil
		})
	}
	_ = g.Wait()

	for i := range outcomes {
		if sent[i] {
			continue
		}
		rep.Incomplete = true
		if outcomes[i].Email == "" {
			outcomes[i] = Failure(emails[i], "not dispatched")
		}
	}
	rep.Outcomes = outcomes
}

// send runs one transport call. A panic in the transport fails this message
// only.
func (e *Engine) send(ctx context.Context, msg *message.Message) (out Outcome) {
	metrics.IncInFlight()
	defer metrics.DecInFlight()
	defer func() {
		if r := recover(); r != nil {
			out = Failure(msg.To, fmt.Sprintf("panic: %v", r))
			metrics.SendFailures.Add(1)
			e.log.Error().Str("email", msg.To).Interface("panic", r).Msg("send panicked")
		}
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	id, err := e.transport.Send(ctx, msg)
	if err != nil {
		metrics.SendFailures.Add(1)
		e.log.Warn().Err(err).Str("email", msg.To).Msg("send failed")
		return Failure(msg.To, delivery.Detail(err))
	}
	metrics.MessagesSent.Add(1)
	e.log.Debug().Str("email", msg.To).Str("message_id", id).Msg("sent")
	return Success(msg.To, id)
}

// render writes every queued message to the writer, one at a time.
func (e *Engine) render(ctx context.Context, q *Queue, emails []string, rep *Report) {
	files := make([]FileResult, len(emails))
	for {
		msg, slot, ok := q.Pop()
		if !ok {
			break
		}
		loc, err := e.writer.Write(ctx, storage.FileName(msg.To), []byte(msg.HTML))
		files[slot] = FileResult{Email: msg.To, Location: loc, Err: err}
		if err != nil {
			e.log.Warn().Err(err).Str("email", msg.To).Msg("write failed")
			continue
		}
		metrics.FilesWritten.Add(1)
		e.log.Debug().Str("email", msg.To).Str("location", loc).Msg("written")
	}
	rep.Files = files
}
