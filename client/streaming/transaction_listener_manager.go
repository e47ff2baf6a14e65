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

// TransactionListenerOpts are options of transaction listeners.
type TransactionListenerOpts struct {
	// StartTime is the time to load transactions from; without it, the
	// server decides where the stream starts.
	StartTime optional.Option[time.Time]
}

// TransactionListenerManager polls transaction streams of strategies and
// subscribers on behalf of registered TransactionListeners.
type TransactionListenerManager struct {
	domain     *rest.DomainClient
	strategy   *registry
	subscriber *registry
}

// NewTransactionListenerManager creates a TransactionListenerManager. params
// may be nil.
func NewTransactionListenerManager(domain *rest.DomainClient, params *ListenerParams) *TransactionListenerManager {
	var p ListenerParams
	if params != nil {
		p = *params
	}
	p = p.withDefaults(domain)

	return &TransactionListenerManager{
		domain:     domain,
		strategy:   newRegistry(KindTransactionByStrategy, p),
		subscriber: newRegistry(KindTransactionBySubscriber, p),
	}
}

// AddStrategyTransactionListener registers listener for the transactions of
// a strategy and returns the listener id.
func (m *TransactionListenerManager) AddStrategyTransactionListener(
	listener TransactionListener, strategyID string, opts *TransactionListenerOpts,
) (string, error) {
	if strategyID == "" {
		return "", errors.Trace(ErrNoSubject)
	}

	path := "/users/current/strategies/" + url.PathEscape(strategyID) + "/transactions/stream"
	return m.strategy.add(listener, m.pollFunc(m.strategy, listener, path, opts)), nil
}

// AddSubscriberTransactionListener registers listener for the transactions
// of a subscriber and returns the listener id.
func (m *TransactionListenerManager) AddSubscriberTransactionListener(
	listener TransactionListener, subscriberID string, opts *TransactionListenerOpts,
) (string, error) {
	if subscriberID == "" {
		return "", errors.Trace(ErrNoSubject)
	}

	path := "/users/current/subscribers/" + url.PathEscape(subscriberID) + "/transactions/stream"
	return m.subscriber.add(listener, m.pollFunc(m.subscriber, listener, path, opts)), nil
}

// RemoveStrategyTransactionListener stops and releases a strategy
// transaction listener. Unknown ids are ignored.
func (m *TransactionListenerManager) RemoveStrategyTransactionListener(id string) {
	m.strategy.remove(id)
}

// RemoveSubscriberTransactionListener stops and releases a subscriber
// transaction listener. Unknown ids are ignored.
func (m *TransactionListenerManager) RemoveSubscriberTransactionListener(id string) {
	m.subscriber.remove(id)
}

// StrategyTransactionListenerIDs returns the ids of strategy listeners,
// sorted.
func (m *TransactionListenerManager) StrategyTransactionListenerIDs() []string {
	return m.strategy.ids()
}

// SubscriberTransactionListenerIDs returns the ids of subscriber
// listeners, sorted.
func (m *TransactionListenerManager) SubscriberTransactionListenerIDs() []string {
	return m.subscriber.ids()
}

// StrategyListenerState returns the state of a strategy transaction
// listener.
func (m *TransactionListenerManager) StrategyListenerState(id string) (ListenerState, error) {
	state, err := m.strategy.state(id)
	return state, errors.Trace(err)
}

// SubscriberListenerState returns the state of a subscriber transaction
// listener.
func (m *TransactionListenerManager) SubscriberListenerState(id string) (ListenerState, error) {
	state, err := m.subscriber.state(id)
	return state, errors.Trace(err)
}

// Close removes all listeners and waits for their loops to quit, or for ctx
// to be done.
func (m *TransactionListenerManager) Close(ctx context.Context) error {
	if err := m.strategy.removeAll(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.subscriber.removeAll(ctx))
}

func (m *TransactionListenerManager) pollFunc(
	r *registry, listener TransactionListener, path string, opts *TransactionListenerOpts,
) internal.PollFunc {
	var startTime optional.Option[time.Time]
	if opts != nil {
		startTime = opts.StartTime
	}

	fetch := func(ctx context.Context) ([]common.Transaction, error) {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(streamLimit))
		if startTime.IsSome() {
			q.Set("startTime", common.FormatTime(startTime.Unwrap()))
		}

		var txs []common.Transaction
		err := m.domain.RequestCopyFactory(ctx, &rest.RequestOpts{
			Method:   http.MethodGet,
			Path:     path,
			Query:    q,
			Extended: true,
		}, &txs)
		if err != nil {
			return nil, errors.Trace(err)
		}

		return txs, nil
	}

	advance := func(txs []common.Transaction) {
		startTime = nextStartTime(startTime, common.LatestTransactionTime(txs))
	}

	return pollBatch(r, fetch, advance, listener.OnTransaction)
}
