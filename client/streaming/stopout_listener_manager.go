package streaming

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/juju/errors"
	"github.com/moznion/go-optional"

	"github.com/y3sh/copyfactory-sdk-go/client/rest"
	"github.com/y3sh/copyfactory-sdk-go/common"
)

const stopoutsStreamPath = "/users/current/stopouts/stream"

// StopoutListenerOpts narrows the stopouts a listener receives. All fields
// are optional.
type StopoutListenerOpts struct {
	// AccountID limits stopouts to one subscriber account.
	AccountID string

	// StrategyID limits stopouts to one strategy.
	StrategyID string

	// SequenceNumber is the sequence number to start from; without it, the
	// stream starts with the stopouts the server has not sent before.
	SequenceNumber optional.Option[int64]
}

// StopoutListenerManager polls the stopout stream on behalf of registered
// StopoutListeners.
type StopoutListenerManager struct {
	domain   *rest.DomainClient
	registry *registry
}

// NewStopoutListenerManager creates a StopoutListenerManager. params may be
// nil.
func NewStopoutListenerManager(domain *rest.DomainClient, params *ListenerParams) *StopoutListenerManager {
	var p ListenerParams
	if params != nil {
		p = *params
	}

	return &StopoutListenerManager{
		domain:   domain,
		registry: newRegistry(KindStopout, p.withDefaults(domain)),
	}
}

// AddStopoutListener registers listener and starts polling stopouts for
// it. It returns the listener id.
func (m *StopoutListenerManager) AddStopoutListener(listener StopoutListener, opts *StopoutListenerOpts) string {
	var o StopoutListenerOpts
	if opts != nil {
		o = *opts
	}

	// Cursor; only touched by the poll loop.
	sequenceNumber := o.SequenceNumber

	fetch := func(ctx context.Context) ([]common.Stopout, error) {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(streamLimit))
		if o.AccountID != "" {
			q.Set("subscriberId", o.AccountID)
		}
		if o.StrategyID != "" {
			q.Set("strategyId", o.StrategyID)
		}
		if sequenceNumber.IsSome() {
			q.Set("sequenceNumber", strconv.FormatInt(sequenceNumber.Unwrap(), 10))
		}

		var stopouts []common.Stopout
		err := m.domain.RequestCopyFactory(ctx, &rest.RequestOpts{
			Method:   http.MethodGet,
			Path:     stopoutsStreamPath,
			Query:    q,
			Extended: true,
		}, &stopouts)
		if err != nil {
			return nil, errors.Trace(err)
		}

		return stopouts, nil
	}

	advance := func(stopouts []common.Stopout) {
		last := stopouts[len(stopouts)-1].SequenceNumber
		for _, s := range stopouts {
			if s.SequenceNumber > last {
				last = s.SequenceNumber
			}
		}
		sequenceNumber = nextSequenceNumber(sequenceNumber, last)
	}

	return m.registry.add(listener, pollBatch(m.registry, fetch, advance, listener.OnStopout))
}

// RemoveStopoutListener stops the listener and releases it. Removing an
// unknown or already removed listener does nothing.
func (m *StopoutListenerManager) RemoveStopoutListener(id string) {
	m.registry.remove(id)
}

// StopoutListenerIDs returns the ids of registered listeners.
func (m *StopoutListenerManager) StopoutListenerIDs() []string {
	return m.registry.ids()
}

// ListenerState returns the state of a registered listener.
func (m *StopoutListenerManager) ListenerState(id string) (ListenerState, error) {
	state, err := m.registry.state(id)
	return state, errors.Trace(err)
}

// Close removes all listeners and waits for their loops to quit, or for ctx
// to be done. It must not be called from a listener callback.
func (m *StopoutListenerManager) Close(ctx context.Context) error {
	return errors.Trace(m.registry.removeAll(ctx))
}
