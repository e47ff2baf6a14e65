package copyfactory

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/y3sh/copyfactory-sdk-go/client/rest"
	"github.com/y3sh/copyfactory-sdk-go/common"
)

// SignalClient reads trading signals of a subscriber account and publishes
// external signals. Requests go to the regional hosts of the account, the
// primary region first.
type SignalClient struct {
	accountID string
	host      *rest.SignalClientHost
	domain    *rest.DomainClient
	validate  *argValidator
}

func newSignalClient(accountID string, host *rest.SignalClientHost, domain *rest.DomainClient, v *argValidator) *SignalClient {
	return &SignalClient{
		accountID: accountID,
		host:      host,
		domain:    domain,
		validate:  v,
	}
}

// AccountID returns the account the client is bound to.
func (c *SignalClient) AccountID() string {
	return c.accountID
}

// Region returns the region requests are sent to first.
func (c *SignalClient) Region() string {
	return c.host.Region
}

// GenerateSignalID returns a random external signal id.
func (c *SignalClient) GenerateSignalID() string {
	return GenerateSignalID()
}

// GenerateSignalID returns 8 random alphanumerics.
func GenerateSignalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// GetTradingSignals returns the active trading signals of the account.
func (c *SignalClient) GetTradingSignals(ctx context.Context) ([]common.TradingSignal, error) {
	var signals []common.TradingSignal
	err := c.request(ctx, &rest.RequestOpts{
		Method: http.MethodGet,
		Path:   "/users/current/subscribers/" + url.PathEscape(c.accountID) + "/signals",
	}, &signals)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return signals, nil
}

// GetStrategyExternalSignals returns the external signals of a strategy.
func (c *SignalClient) GetStrategyExternalSignals(ctx context.Context, strategyID string) ([]common.ExternalSignal, error) {
	if err := c.validate.Var("strategyId", strategyID, "required"); err != nil {
		return nil, errors.Trace(err)
	}

	var signals []common.ExternalSignal
	err := c.request(ctx, &rest.RequestOpts{
		Method: http.MethodGet,
		Path:   externalSignalsPath(strategyID),
	}, &signals)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return signals, nil
}

// UpdateExternalSignal creates or updates an external signal of a
// strategy. signalID must be 8 alphanumerics, see GenerateSignalID.
func (c *SignalClient) UpdateExternalSignal(
	ctx context.Context, strategyID, signalID string, signal *common.ExternalSignalUpdate,
) error {
	if err := c.validateSignalArgs(strategyID, signalID); err != nil {
		return errors.Trace(err)
	}
	if err := c.validate.Present("signal", signal != nil); err != nil {
		return errors.Trace(err)
	}
	if err := c.validate.Struct(signal); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.request(ctx, &rest.RequestOpts{
		Method: http.MethodPut,
		Path:   externalSignalsPath(strategyID) + "/" + url.PathEscape(signalID),
		Body:   signal,
	}, nil))
}

// RemoveExternalSignal closes an external signal of a strategy.
func (c *SignalClient) RemoveExternalSignal(
	ctx context.Context, strategyID, signalID string, signal *common.ExternalSignalRemove,
) error {
	if err := c.validateSignalArgs(strategyID, signalID); err != nil {
		return errors.Trace(err)
	}
	if err := c.validate.Present("signal", signal != nil); err != nil {
		return errors.Trace(err)
	}
	if err := c.validate.Struct(signal); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.request(ctx, &rest.RequestOpts{
		Method: http.MethodPost,
		Path:   externalSignalsPath(strategyID) + "/" + url.PathEscape(signalID) + "/remove",
		Body:   signal,
	}, nil))
}

func (c *SignalClient) validateSignalArgs(strategyID, signalID string) error {
	if err := c.validate.Var("strategyId", strategyID, "required"); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.validate.Var("signalId", signalID, "required,len=8,alphanum"))
}

func (c *SignalClient) request(ctx context.Context, opts *rest.RequestOpts, out interface{}) error {
	opts.Headers = http.Header{}
	opts.Headers.Set("User-Agent", "copyfactory-sdk-go/"+Version)

	return errors.Trace(c.domain.RequestSignal(ctx, opts, c.host, out))
}

func externalSignalsPath(strategyID string) string {
	return "/users/current/strategies/" + url.PathEscape(strategyID) + "/external-signals"
}
