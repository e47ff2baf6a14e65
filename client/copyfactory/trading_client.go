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

// ResynchronizeOpts narrow a resynchronization. Empty lists resynchronize
// everything.
type ResynchronizeOpts struct {
	StrategyIDs []string
	PositionIDs []string
}

// UserLogFilter selects user log records. All fields are optional.
type UserLogFilter struct {
	StartTime optional.Option[time.Time]
	EndTime   optional.Option[time.Time]

	// StrategyID filters a subscriber log by strategy.
	StrategyID optional.Option[string]
	PositionID optional.Option[string]

	// Level is the minimum severity of returned records.
	Level optional.Option[common.LogLevel]

	Offset optional.Option[int]
	// Limit defaults to DefaultLimit.
	Limit optional.Option[int]
}

func (f *UserLogFilter) query() url.Values {
	var o UserLogFilter
	if f != nil {
		o = *f
	}

	q := url.Values{}
	if o.StartTime.IsSome() {
		q.Set("startTime", common.FormatTime(o.StartTime.Unwrap()))
	}
	if o.EndTime.IsSome() {
		q.Set("endTime", common.FormatTime(o.EndTime.Unwrap()))
	}
	if o.StrategyID.IsSome() {
		q.Set("strategyId", o.StrategyID.Unwrap())
	}
	if o.PositionID.IsSome() {
		q.Set("positionId", o.PositionID.Unwrap())
	}
	if o.Level.IsSome() {
		q.Set("level", string(o.Level.Unwrap()))
	}
	q.Set("offset", strconv.Itoa(o.Offset.TakeOr(0)))
	q.Set("limit", strconv.Itoa(o.Limit.TakeOr(DefaultLimit)))
	return q
}

// TradingClient resynchronizes subscribers, manages stopouts, reads user
// logs and registers stopout and user log listeners.
type TradingClient struct {
	domain   *rest.DomainClient
	validate *argValidator

	stopouts *streaming.StopoutListenerManager
	userLogs *streaming.UserLogListenerManager
}

func newTradingClient(domain *rest.DomainClient, v *argValidator, params *streaming.ListenerParams) *TradingClient {
	return &TradingClient{
		domain:   domain,
		validate: v,
		stopouts: streaming.NewStopoutListenerManager(domain, params),
		userLogs: streaming.NewUserLogListenerManager(domain, params),
	}
}

// Resynchronize schedules the resynchronization of a subscriber account.
// opts may be nil.
func (c *TradingClient) Resynchronize(ctx context.Context, accountID string, opts *ResynchronizeOpts) error {
	if err := c.validate.Var("accountId", accountID, "required"); err != nil {
		return errors.Trace(err)
	}

	q := url.Values{}
	if opts != nil {
		for _, id := range opts.StrategyIDs {
			q.Add("strategyId", id)
		}
		for _, id := range opts.PositionIDs {
			q.Add("positionId", id)
		}
	}

	return errors.Trace(request(ctx, c.domain, &rest.RequestOpts{
		Method:   http.MethodPost,
		Path:     "/users/current/subscribers/" + url.PathEscape(accountID) + "/resynchronize",
		Query:    q,
		Extended: true,
	}, nil))
}

// GetStopouts returns the active stopouts of a subscriber.
func (c *TradingClient) GetStopouts(ctx context.Context, subscriberID string) ([]common.Stopout, error) {
	if err := c.validate.Var("subscriberId", subscriberID, "required"); err != nil {
		return nil, errors.Trace(err)
	}

	var stopouts []common.Stopout
	err := request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodGet,
		Path:   "/users/current/subscribers/" + url.PathEscape(subscriberID) + "/stopouts",
	}, &stopouts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return stopouts, nil
}

// ResetSubscriberStopouts resets stopouts of a subscriber for all its
// subscriptions.
func (c *TradingClient) ResetSubscriberStopouts(ctx context.Context, subscriberID string, reason common.StopoutReason) error {
	if err := c.validate.Var("subscriberId", subscriberID, "required"); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.resetStopouts(ctx,
		"/users/current/subscribers/"+url.PathEscape(subscriberID), reason))
}

// ResetSubscriptionStopouts resets stopouts of a subscriber for one
// strategy.
func (c *TradingClient) ResetSubscriptionStopouts(
	ctx context.Context, subscriberID, strategyID string, reason common.StopoutReason,
) error {
	if err := c.validate.Var("subscriberId", subscriberID, "required"); err != nil {
		return errors.Trace(err)
	}
	if err := c.validate.Var("strategyId", strategyID, "required"); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.resetStopouts(ctx,
		"/users/current/subscribers/"+url.PathEscape(subscriberID)+
			"/subscription-strategies/"+url.PathEscape(strategyID), reason))
}

func (c *TradingClient) resetStopouts(ctx context.Context, prefix string, reason common.StopoutReason) error {
	if err := c.validate.Var("reason", string(reason), "stopoutreason"); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodPost,
		Path:   prefix + "/stopouts/" + url.PathEscape(string(reason)) + "/reset",
	}, nil))
}

// GetUserLog returns the log of a subscriber. filter may be nil.
func (c *TradingClient) GetUserLog(
	ctx context.Context, subscriberID string, filter *UserLogFilter,
) ([]common.UserLogMessage, error) {
	if err := c.validate.Var("subscriberId", subscriberID, "required"); err != nil {
		return nil, errors.Trace(err)
	}

	msgs, err := c.getLog(ctx, "/users/current/subscribers/"+url.PathEscape(subscriberID)+"/user-log", filter)
	return msgs, errors.Trace(err)
}

// GetStrategyLog returns the log of a strategy. filter may be nil; its
// StrategyID is ignored.
func (c *TradingClient) GetStrategyLog(
	ctx context.Context, strategyID string, filter *UserLogFilter,
) ([]common.UserLogMessage, error) {
	if err := c.validate.Var("strategyId", strategyID, "required"); err != nil {
		return nil, errors.Trace(err)
	}

	var f UserLogFilter
	if filter != nil {
		f = *filter
	}
	f.StrategyID = optional.None[string]()

	msgs, err := c.getLog(ctx, "/users/current/strategies/"+url.PathEscape(strategyID)+"/user-log", &f)
	return msgs, errors.Trace(err)
}

func (c *TradingClient) getLog(ctx context.Context, path string, filter *UserLogFilter) ([]common.UserLogMessage, error) {
	if filter != nil && filter.Level.IsSome() {
		if err := c.validate.Var("level", string(filter.Level.Unwrap()), "loglevel"); err != nil {
			return nil, errors.Trace(err)
		}
	}

	var msgs []common.UserLogMessage
	err := request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodGet,
		Path:   path,
		Query:  filter.query(),
	}, &msgs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return msgs, nil
}

// GetSignalClient returns a SignalClient bound to the regions of an
// account.
func (c *TradingClient) GetSignalClient(ctx context.Context, accountID string) (*SignalClient, error) {
	if err := c.validate.Var("accountId", accountID, "required"); err != nil {
		return nil, errors.Trace(err)
	}

	info, err := c.domain.GetAccountInfo(ctx, accountID)
	if err != nil {
		return nil, errors.Annotatef(err, "getting account %s", accountID)
	}

	host, err := c.domain.GetSignalClientHost(ctx, info.Regions)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return newSignalClient(accountID, host, c.domain, c.validate), nil
}

// AddStopoutListener registers a stopout listener and returns its id. opts
// may be nil.
func (c *TradingClient) AddStopoutListener(listener streaming.StopoutListener, opts *streaming.StopoutListenerOpts) string {
	return c.stopouts.AddStopoutListener(listener, opts)
}

// RemoveStopoutListener stops and removes a stopout listener. Unknown ids
// are ignored.
func (c *TradingClient) RemoveStopoutListener(id string) {
	c.stopouts.RemoveStopoutListener(id)
}

// AddStrategyLogListener registers a listener for the log of a strategy and
// returns its id.
func (c *TradingClient) AddStrategyLogListener(
	listener streaming.UserLogListener, strategyID string, opts *streaming.UserLogListenerOpts,
) (string, error) {
	id, err := c.userLogs.AddStrategyLogListener(listener, strategyID, opts)
	return id, errors.Trace(err)
}

// AddSubscriberLogListener registers a listener for the log of a subscriber
// and returns its id.
func (c *TradingClient) AddSubscriberLogListener(
	listener streaming.UserLogListener, subscriberID string, opts *streaming.UserLogListenerOpts,
) (string, error) {
	id, err := c.userLogs.AddSubscriberLogListener(listener, subscriberID, opts)
	return id, errors.Trace(err)
}

// RemoveStrategyLogListener stops and removes a strategy log listener.
func (c *TradingClient) RemoveStrategyLogListener(id string) {
	c.userLogs.RemoveStrategyLogListener(id)
}

// RemoveSubscriberLogListener stops and removes a subscriber log listener.
func (c *TradingClient) RemoveSubscriberLogListener(id string) {
	c.userLogs.RemoveSubscriberLogListener(id)
}

// StopoutListeners returns the manager of stopout listeners.
func (c *TradingClient) StopoutListeners() *streaming.StopoutListenerManager {
	return c.stopouts
}

// UserLogListeners returns the manager of user log listeners.
func (c *TradingClient) UserLogListeners() *streaming.UserLogListenerManager {
	return c.userLogs
}
