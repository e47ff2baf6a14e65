package streaming

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cryptowatch/clock"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/moznion/go-optional"
	"github.com/rs/zerolog"

	"github.com/y3sh/copyfactory-sdk-go/client/rest"
	"github.com/y3sh/copyfactory-sdk-go/client/streaming/internal"
	"github.com/y3sh/copyfactory-sdk-go/metrics"
)

const (
	// DefaultPollInterval is the wait between fetches which returned no
	// events.
	DefaultPollInterval = internal.DefaultInterval

	// streamLimit is the maximum number of events requested per fetch.
	streamLimit = 1000
)

// Listener kinds, also used as metric labels.
const (
	KindStopout                 = "stopout"
	KindTransactionByStrategy   = "transaction-by-strategy"
	KindTransactionBySubscriber = "transaction-by-subscriber"
	KindUserLogByStrategy       = "user-log-by-strategy"
	KindUserLogBySubscriber     = "user-log-by-subscriber"
)

var (
	ErrListenerNotFound = errors.New("listener not found")
	ErrNoSubject        = errors.New("listener subject id is required")
)

// ListenerState is the state of a registered listener.
type ListenerState int

const (
	ListenerRegistered ListenerState = ListenerState(internal.PollerStateRegistered)
	ListenerPolling    ListenerState = ListenerState(internal.PollerStatePolling)
	ListenerStopped    ListenerState = ListenerState(internal.PollerStateStopped)

	// ListenerFailed means polling stopped because the token was rejected.
	ListenerFailed ListenerState = ListenerState(internal.PollerStateFailed)
)

// String returns the name of the state.
func (s ListenerState) String() string {
	return internal.PollerState(s).String()
}

// ListenerParams contains params shared by all listener managers. All
// fields are optional.
type ListenerParams struct {
	// PollInterval is the wait after an empty fetch; DefaultPollInterval if
	// zero.
	PollInterval time.Duration

	// RetryOpts is the backoff after failed fetches; the policy of the HTTP
	// client if nil.
	RetryOpts *rest.RetryOpts

	Logger  *zerolog.Logger
	Metrics *metrics.Metrics

	clock clock.Clock
}

func (p ListenerParams) withDefaults(domain *rest.DomainClient) ListenerParams {
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}

	if p.RetryOpts == nil {
		opts := domain.HTTPClient().RetryOpts()
		p.RetryOpts = &opts
	}

	if p.clock == nil {
		p.clock = clock.New()
	}

	return p
}

// registry holds the listeners of one kind, keyed by listener id. Each
// entry owns the poller running the listener.
type registry struct {
	kind   string
	params ListenerParams
	logger zerolog.Logger

	mtx     sync.Mutex
	pollers map[string]*internal.Poller
}

func newRegistry(kind string, params ListenerParams) *registry {
	r := &registry{
		kind:    kind,
		params:  params,
		pollers: make(map[string]*internal.Poller),
	}

	if params.Logger != nil {
		r.logger = params.Logger.With().Str("component", "listeners").Str("kind", kind).Logger()
	} else {
		r.logger = zerolog.Nop()
	}

	return r
}

// add registers a listener and starts polling for it.
func (r *registry) add(listener interface{}, poll internal.PollFunc) string {
	id := uuid.New().String()
	logger := r.logger.With().Str("listener_id", id).Logger()

	p := internal.NewPoller(&internal.PollerParams{
		Poll:     poll,
		OnError:  r.errorHandler(listener, logger),
		Fatal:    isFatal,
		Backoff:  r.backoff,
		Interval: r.params.PollInterval,
		Clock:    r.params.clock,
		Logger:   &logger,
		OnStateChange: func(oldState, state internal.PollerState, cause error) {
			logger.Debug().Stringer("from", oldState).Stringer("to", state).Msg("listener state changed")
		},
	})

	r.mtx.Lock()
	r.pollers[id] = p
	r.mtx.Unlock()

	r.params.Metrics.ListenerAdded(r.kind)

	if err := p.Start(); err != nil {
		// Can't happen for a fresh poller.
		logger.Error().Err(err).Msg("starting listener")
	}

	return id
}

// remove stops the listener and releases it. Unknown ids are ignored.
func (r *registry) remove(id string) {
	r.mtx.Lock()
	p, ok := r.pollers[id]
	if ok {
		delete(r.pollers, id)
		p.Stop()
	}
	r.mtx.Unlock()

	if ok {
		r.params.Metrics.ListenerRemoved(r.kind)
		r.logger.Debug().Str("listener_id", id).Msg("listener removed")
	}
}

// removeAll stops all listeners and waits until their loops have quit, or
// ctx is done.
func (r *registry) removeAll(ctx context.Context) error {
	r.mtx.Lock()
	pollers := r.pollers
	r.pollers = make(map[string]*internal.Poller)
	for _, p := range pollers {
		p.Stop()
	}
	r.mtx.Unlock()

	for range pollers {
		r.params.Metrics.ListenerRemoved(r.kind)
	}

	for _, p := range pollers {
		select {
		case <-p.Done():
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		}
	}

	return nil
}

func (r *registry) ids() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	ids := make([]string, 0, len(r.pollers))
	for id := range r.pollers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

func (r *registry) state(id string) (ListenerState, error) {
	r.mtx.Lock()
	p, ok := r.pollers[id]
	r.mtx.Unlock()

	if !ok {
		return ListenerStopped, errors.Trace(ErrListenerNotFound)
	}

	state, _ := p.State()
	return ListenerState(state), nil
}

// backoff follows the retry policy, and never waits less than the server
// asked for in a rate limit error.
func (r *registry) backoff(n int, err error) time.Duration {
	d := r.params.RetryOpts.Backoff(n)
	if e, ok := rest.AsAPIError(err); ok {
		if rd, ok := e.RecommendedRetryDelay(r.params.clock.Now()); ok && rd > d {
			d = rd
		}
	}
	return d
}

func (r *registry) errorHandler(listener interface{}, logger zerolog.Logger) func(err error) {
	el, _ := listener.(ErrorListener)

	return func(err error) {
		if _, ok := err.(*internal.PanicError); ok {
			r.params.Metrics.IncCallbackError(r.kind)
		}

		if el == nil {
			logger.Warn().Err(err).Msg("listener error")
			return
		}

		el.OnError(err)
	}
}

// deliverFunc wraps a listener callback so that its errors are counted.
func (r *registry) deliverFunc(deliver func() error) func() error {
	return func() error {
		err := deliver()
		if err != nil {
			r.params.Metrics.IncCallbackError(r.kind)
		}
		return err
	}
}

// isFatal reports whether retrying can't help: the token has no refresh
// path.
func isFatal(err error) bool {
	return rest.IsUnauthorized(err) || rest.IsForbidden(err)
}

// pollBatch builds a PollFunc out of a fetch func, a cursor update and a
// callback.
func pollBatch[E any](
	r *registry,
	fetch func(ctx context.Context) ([]E, error),
	advance func(events []E),
	deliver func(events []E) error,
) internal.PollFunc {
	return func(ctx context.Context) (int, func() error, error) {
		events, err := fetch(ctx)
		if err != nil {
			r.params.Metrics.ObservePoll(r.kind, "error", 0)
			return 0, nil, errors.Trace(err)
		}

		if len(events) == 0 {
			r.params.Metrics.ObservePoll(r.kind, "empty", 0)
			return 0, nil, nil
		}

		r.params.Metrics.ObservePoll(r.kind, "ok", len(events))
		advance(events)

		return len(events), r.deliverFunc(func() error {
			return deliver(events)
		}), nil
	}
}

// nextStartTime returns the time cursor after a batch whose latest event
// happened at latest. The cursor never moves back, so events without a
// time can't rewind it.
func nextStartTime(cur optional.Option[time.Time], latest time.Time) optional.Option[time.Time] {
	if latest.IsZero() {
		return cur
	}

	next := latest.Add(time.Millisecond)
	if cur.IsSome() && !next.After(cur.Unwrap()) {
		return cur
	}

	return optional.Some(next)
}

// nextSequenceNumber is nextStartTime for sequence numbers.
func nextSequenceNumber(cur optional.Option[int64], last int64) optional.Option[int64] {
	if last <= 0 {
		return cur
	}

	next := last + 1
	if cur.IsSome() && next <= cur.Unwrap() {
		return cur
	}

	return optional.Some(next)
}
