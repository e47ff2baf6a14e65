package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cryptowatch/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// PollerState is the state of a Poller.
type PollerState int

const (
	// PollerStateRegistered means the poller is created but pollLoop is not
	// started yet.
	PollerStateRegistered PollerState = iota

	// PollerStatePolling means pollLoop is running: fetching, dispatching, or
	// waiting before the next fetch.
	PollerStatePolling

	// PollerStateStopped means Stop was called. pollLoop quits (or has quit)
	// without dispatching anything else.
	PollerStateStopped

	// PollerStateFailed means pollLoop quit after an error which could not be
	// fixed by retrying; stateCause holds it.
	PollerStateFailed
)

// DefaultInterval is the wait after a fetch which returned nothing.
const DefaultInterval = 1 * time.Second

// PollerStateNames contains human-readable names for PollerState.
var PollerStateNames = map[PollerState]string{
	PollerStateRegistered: "registered",
	PollerStatePolling:    "polling",
	PollerStateStopped:    "stopped",
	PollerStateFailed:     "failed",
}

// String returns the name of the state.
func (s PollerState) String() string {
	if name, ok := PollerStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("PollerState(%d)", int(s))
}

var (
	ErrPollLoopActive = errors.New("poller error: poll loop is already active")
	ErrPollerStopped  = errors.New("poller error: poller is stopped")
)

// PollFunc fetches the next batch. It returns the number of events fetched
// and a func delivering them; deliver is not called when n is zero.
type PollFunc func(ctx context.Context) (n int, deliver func() error, err error)

// PollerParams contains params for NewPoller.
type PollerParams struct {
	Poll PollFunc

	// OnError, if not nil, receives fetch errors and errors returned by (or
	// panics of) deliver funcs.
	OnError func(err error)

	// Fatal, if not nil, reports whether a fetch error makes polling
	// pointless; the poller then enters PollerStateFailed.
	Fatal func(err error) bool

	// Backoff returns how long to wait after the n-th consecutive failed
	// fetch.
	Backoff func(n int, err error) time.Duration

	// Interval is the wait after a fetch which returned nothing;
	// DefaultInterval if zero.
	Interval time.Duration

	// OnStateChange, if not nil, is called on every state change with the
	// poller mutex held; it must not call the Poller back.
	OnStateChange func(oldState, state PollerState, cause error)

	Clock  clock.Clock
	Logger *zerolog.Logger

	// beforeDispatch, if not nil, is called after a non-empty fetch, right
	// before the batch is handed to deliver.
	beforeDispatch func()
}

// Poller repeatedly calls a PollFunc in its own goroutine and dispatches the
// results, until stopped.
type Poller struct {
	params PollerParams
	logger zerolog.Logger

	mtx        sync.Mutex
	state      PollerState
	stateCause error

	// ctx is cancelled by Stop; pollLoop checks it before every fetch and
	// every dispatch.
	ctx       context.Context
	ctxCancel context.CancelFunc

	// done is closed when pollLoop quits.
	done chan struct{}
}

// NewPoller creates a poller in PollerStateRegistered; call Start to begin
// polling.
func NewPoller(params *PollerParams) *Poller {
	p := &Poller{
		// Copy params
		params: *params,

		state: PollerStateRegistered,
		done:  make(chan struct{}),
	}

	if p.params.Interval <= 0 {
		p.params.Interval = DefaultInterval
	}

	if p.params.Backoff == nil {
		p.params.Backoff = func(n int, err error) time.Duration {
			return p.params.Interval
		}
	}

	if p.params.Clock == nil {
		p.params.Clock = clock.New()
	}

	if p.params.Logger != nil {
		p.logger = *p.params.Logger
	} else {
		p.logger = zerolog.Nop()
	}

	p.ctx, p.ctxCancel = context.WithCancel(context.Background())

	return p
}

// Start launches pollLoop. It returns immediately.
func (p *Poller) Start() error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	switch p.state {
	case PollerStateRegistered:
		// NOTE that the state is updated here and not in pollLoop, so that a
		// second Start can't launch another loop.
		p.updateState(PollerStatePolling, nil)

		go p.pollLoop(p.ctx)

	case PollerStatePolling:
		return errors.Trace(ErrPollLoopActive)

	default:
		return errors.Trace(ErrPollerStopped)
	}

	return nil
}

// Stop cancels polling: a fetch in flight is aborted and its result is
// discarded, and no further fetch happens. Stop does not wait for pollLoop
// to quit (see Done), so it may be called from a dispatched callback.
// Calling it more than once is a no-op.
func (p *Poller) Stop() {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.ctxCancel()

	if p.state == PollerStateStopped {
		return
	}

	if p.state == PollerStateRegistered {
		// pollLoop was never started
		close(p.done)
	}

	p.updateState(PollerStateStopped, nil)
}

// State returns the current state and the error which caused it, if any.
func (p *Poller) State() (PollerState, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.state, p.stateCause
}

// Done returns a channel which is closed once pollLoop has quit.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) updateState(state PollerState, cause error) {
	// NOTE: p.mtx should be locked when updateState is called

	if p.state == state {
		return
	}

	oldState := p.state
	p.state = state
	p.stateCause = cause

	if p.params.OnStateChange != nil {
		p.params.OnStateChange(oldState, state, cause)
	}
}

// pollLoop fetches and dispatches batches until ctx is cancelled or a fatal
// error happens.
func (p *Poller) pollLoop(ctx context.Context) {
	defer close(p.done)

	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		n, deliver, err := p.params.Poll(ctx)

		// Stopped while fetching: whatever we got is discarded.
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			failures++
			p.reportError(ctx, err)

			if p.params.Fatal != nil && p.params.Fatal(err) {
				p.mtx.Lock()
				if p.state == PollerStatePolling {
					p.updateState(PollerStateFailed, err)
				}
				p.mtx.Unlock()

				p.logger.Warn().Err(err).Msg("polling failed permanently")
				return
			}

			delay := p.params.Backoff(failures, err)
			p.logger.Debug().Err(err).Int("failures", failures).Dur("delay", delay).Msg("fetch failed")

			if !p.wait(ctx, delay) {
				return
			}
			continue
		}

		failures = 0

		if n == 0 {
			if !p.wait(ctx, p.params.Interval) {
				return
			}
			continue
		}

		if p.params.beforeDispatch != nil {
			p.params.beforeDispatch()
		}

		// Stop may have landed after the fetch returned.
		if ctx.Err() != nil {
			return
		}

		if err := safeCall(deliver); err != nil {
			p.reportError(ctx, err)
		}
	}
}

// reportError passes err to OnError, unless the poller is stopped. A panic
// in OnError is logged and swallowed.
func (p *Poller) reportError(ctx context.Context, err error) {
	if p.params.OnError == nil || ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("error callback panicked")
		}
	}()

	p.params.OnError(err)
}

// wait waits for d, and returns false if ctx was cancelled in the meantime.
func (p *Poller) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	elapsed := make(chan struct{})
	timer := p.params.Clock.AfterFunc(d, func() {
		close(elapsed)
	})

	select {
	case <-elapsed:
		return ctx.Err() == nil
	case <-ctx.Done():
		timer.Stop()
		return false
	}
}

// PanicError is passed to OnError when a deliver func panics.
type PanicError struct {
	Value interface{}
}

// Error returns the panic value formatted.
func (e *PanicError) Error() string {
	return fmt.Sprintf("listener panicked: %v", e.Value)
}

func safeCall(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	return f()
}
