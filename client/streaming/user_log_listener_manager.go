package streaming

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/moznion/go-optional"

	"github.com/y3sh/copyfactory-sdk-go/client/rest"
	"github.com/y3sh/copyfactory-sdk-go/client/streaming/internal"
	"github.com/y3sh/copyfactory-sdk-go/common"
)

// UserLogListenerOpts are options of user log listeners. All fields are
// optional.
type UserLogListenerOpts struct {
	StartTime  optional.Option[time.Time]
	PositionID optional.Option[string]

	// StrategyID filters a subscriber log by strategy. It is ignored for
	// strategy logs.
	StrategyID optional.Option[string]

	// Level is the minimum severity of messages to receive.
	Level optional.Option[common.LogLevel]

	// Limit is the maximum number of messages per fetch; 1000 if not set.
	Limit optional.Option[int]
}

// UserLogListenerManager polls strategy and subscriber user logs on behalf
// of registered UserLogListeners.
type UserLogListenerManager struct {
	domain     *rest.DomainClient
	strategy   *registry
	subscriber *registry
}

// NewUserLogListenerManager creates a UserLogListenerManager. params may be
// nil.
func NewUserLogListenerManager(domain *rest.DomainClient, params *ListenerParams) *UserLogListenerManager {
	var p ListenerParams
	if params != nil {
		p = *params
	}
	p = p.withDefaults(domain)

	return &UserLogListenerManager{
		domain:     domain,
		strategy:   newRegistry(KindUserLogByStrategy, p),
		subscriber: newRegistry(KindUserLogBySubscriber, p),
	}
}

// AddStrategyLogListener registers listener for the log of a strategy and
// returns the listener id.
func (m *UserLogListenerManager) AddStrategyLogListener(
	listener UserLogListener, strategyID string, opts *UserLogListenerOpts,
) (string, error) {
	if strategyID == "" {
		return "", errors.Trace(ErrNoSubject)
	}

	var o UserLogListenerOpts
	if opts != nil {
		o = *opts
	}
	o.StrategyID = optional.None[string]()

	path := "/users/current/strategies/" + url.PathEscape(strategyID) + "/user-log/stream"
	return m.strategy.add(listener, m.pollFunc(m.strategy, listener, path, o)), nil
}

// AddSubscriberLogListener registers listener for the log of a subscriber
// and returns the listener id.
func (m *UserLogListenerManager) AddSubscriberLogListener(
	listener UserLogListener, subscriberID string, opts *UserLogListenerOpts,
) (string, error) {
	if subscriberID == "" {
		return "", errors.Trace(ErrNoSubject)
	}

	var o UserLogListenerOpts
	if opts != nil {
		o = *opts
	}

	path := "/users/current/subscribers/" + url.PathEscape(subscriberID) + "/user-log/stream"
	return m.subscriber.add(listener, m.pollFunc(m.subscriber, listener, path, o)), nil
}

// RemoveStrategyLogListener stops and removes a strategy log listener.
// Unknown ids are ignored.
func (m *UserLogListenerManager) RemoveStrategyLogListener(id string) {
	m.strategy.remove(id)
}

// RemoveSubscriberLogListener stops and removes a subscriber log
// listener. Unknown ids are ignored.
func (m *UserLogListenerManager) RemoveSubscriberLogListener(id string) {
	m.subscriber.remove(id)
}

// StrategyLogListenerIDs returns the ids of strategy log listeners,
// sorted.
func (m *UserLogListenerManager) StrategyLogListenerIDs() []string {
	return m.strategy.ids()
}

// SubscriberLogListenerIDs returns the ids of subscriber log listeners,
// sorted.
func (m *UserLogListenerManager) SubscriberLogListenerIDs() []string {
	return m.subscriber.ids()
}

// StrategyListenerState returns the state of a strategy log listener, or
// ErrListenerNotFound.
func (m *UserLogListenerManager) StrategyListenerState(id string) (ListenerState, error) {
	state, err := m.strategy.state(id)
	return state, errors.Trace(err)
}

// SubscriberListenerState returns the state of a subscriber log listener,
// or ErrListenerNotFound.
func (m *UserLogListenerManager) SubscriberListenerState(id string) (ListenerState, error) {
	state, err := m.subscriber.state(id)
	return state, errors.Trace(err)
}

// Close removes all listeners and waits for their loops to quit, or for ctx
// to be done.
func (m *UserLogListenerManager) Close(ctx context.Context) error {
	if err := m.strategy.removeAll(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.subscriber.removeAll(ctx))
}

func (m *UserLogListenerManager) pollFunc(
	r *registry, listener UserLogListener, path string, o UserLogListenerOpts,
) internal.PollFunc {
	startTime := o.StartTime

	limit := streamLimit
	if o.Limit.IsSome() && o.Limit.Unwrap() > 0 {
		limit = o.Limit.Unwrap()
	}

	fetch := func(ctx context.Context) ([]common.UserLogMessage, error) {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if startTime.IsSome() {
			q.Set("startTime", common.FormatTime(startTime.Unwrap()))
		}
		if o.PositionID.IsSome() {
			q.Set("positionId", o.PositionID.Unwrap())
		}
		if o.StrategyID.IsSome() {
			q.Set("strategyId", o.StrategyID.Unwrap())
		}
		if o.Level.IsSome() {
			q.Set("level", string(o.Level.Unwrap()))
		}

		var msgs []common.UserLogMessage
		err := m.domain.RequestCopyFactory(ctx, &rest.RequestOpts{
			Method:   http.MethodGet,
			Path:     path,
			Query:    q,
			Extended: true,
		}, &msgs)
		if err != nil {
			return nil, errors.Trace(err)
		}

		return msgs, nil
	}

	advance := func(msgs []common.UserLogMessage) {
		startTime = nextStartTime(startTime, common.LatestUserLogTime(msgs))
	}

	return pollBatch(r, fetch, advance, listener.OnUserLog)
}
