package copyfactory

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/moznion/go-optional"

	"github.com/y3sh/copyfactory-sdk-go/client/rest"
	"github.com/y3sh/copyfactory-sdk-go/client/streaming"
	"github.com/y3sh/copyfactory-sdk-go/common"
)

// DefaultLimit is the page size used when a query sets no limit.
const DefaultLimit = 1000

// TransactionFilter selects transactions by time range, strategy and
// subscriber.
type TransactionFilter struct {
	From time.Time `validate:"required"`
	Till time.Time `validate:"required,gtfield=From"`

	StrategyIDs   []string
	SubscriberIDs []string

	Offset optional.Option[int]
	// Limit defaults to DefaultLimit.
	Limit optional.Option[int]
}

func (f *TransactionFilter) query() url.Values {
	q := url.Values{}
	q.Set("from", common.FormatTime(f.From))
	q.Set("till", common.FormatTime(f.Till))
	for _, id := range f.StrategyIDs {
		q.Add("strategyId", id)
	}
	for _, id := range f.SubscriberIDs {
		q.Add("subscriberId", id)
	}
	q.Set("offset", strconv.Itoa(f.Offset.TakeOr(0)))
	q.Set("limit", strconv.Itoa(f.Limit.TakeOr(DefaultLimit)))
	return q
}

// HistoryClient queries the transactions of provided strategies and of
// subscriptions, and registers transaction listeners.
type HistoryClient struct {
	domain       *rest.DomainClient
	validate     *argValidator
	transactions *streaming.TransactionListenerManager
}

func newHistoryClient(domain *rest.DomainClient, v *argValidator, params *streaming.ListenerParams) *HistoryClient {
	return &HistoryClient{
		domain:       domain,
		validate:     v,
		transactions: streaming.NewTransactionListenerManager(domain, params),
	}
}

// GetProvidedTransactions returns the transactions of strategies provided
// by the user.
func (c *HistoryClient) GetProvidedTransactions(ctx context.Context, filter *TransactionFilter) ([]common.Transaction, error) {
	txs, err := c.getTransactions(ctx, "/users/current/provided-transactions", filter)
	return txs, errors.Trace(err)
}

// GetSubscriptionTransactions returns the transactions of strategies the
// user is subscribed to.
func (c *HistoryClient) GetSubscriptionTransactions(ctx context.Context, filter *TransactionFilter) ([]common.Transaction, error) {
	txs, err := c.getTransactions(ctx, "/users/current/subscription-transactions", filter)
	return txs, errors.Trace(err)
}

func (c *HistoryClient) getTransactions(ctx context.Context, path string, filter *TransactionFilter) ([]common.Transaction, error) {
	if err := c.validate.Present("filter", filter != nil); err != nil {
		return nil, errors.Trace(err)
	}
	if err := c.validate.Struct(filter); err != nil {
		return nil, errors.Trace(err)
	}

	var txs []common.Transaction
	err := request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodGet,
		Path:   path,
		Query:  filter.query(),
	}, &txs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return txs, nil
}

// AddStrategyTransactionListener registers a listener for the transactions
// of a strategy and returns its id.
func (c *HistoryClient) AddStrategyTransactionListener(
	listener streaming.TransactionListener, strategyID string, opts *streaming.TransactionListenerOpts,
) (string, error) {
	id, err := c.transactions.AddStrategyTransactionListener(listener, strategyID, opts)
	return id, errors.Trace(err)
}

// AddSubscriberTransactionListener registers a listener for the
// transactions of a subscriber and returns its id.
func (c *HistoryClient) AddSubscriberTransactionListener(
	listener streaming.TransactionListener, subscriberID string, opts *streaming.TransactionListenerOpts,
) (string, error) {
	id, err := c.transactions.AddSubscriberTransactionListener(listener, subscriberID, opts)
	return id, errors.Trace(err)
}

// RemoveStrategyTransactionListener stops and removes a strategy
// transaction listener.
func (c *HistoryClient) RemoveStrategyTransactionListener(id string) {
	c.transactions.RemoveStrategyTransactionListener(id)
}

// RemoveSubscriberTransactionListener stops and removes a subscriber
// transaction listener.
func (c *HistoryClient) RemoveSubscriberTransactionListener(id string) {
	c.transactions.RemoveSubscriberTransactionListener(id)
}

// TransactionListeners returns the manager of transaction listeners.
func (c *HistoryClient) TransactionListeners() *streaming.TransactionListenerManager {
	return c.transactions
}
