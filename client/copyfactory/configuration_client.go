package copyfactory

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/moznion/go-optional"

	"github.com/y3sh/copyfactory-sdk-go/client/rest"
	"github.com/y3sh/copyfactory-sdk-go/common"
)

const configurationPath = "/users/current/configuration"

// ListOpts are the pagination options of configuration lists.
type ListOpts struct {
	// IncludeRemoved includes removed entities in results.
	IncludeRemoved optional.Option[bool]

	Limit  optional.Option[int]
	Offset optional.Option[int]
}

func (o *ListOpts) query() url.Values {
	q := url.Values{}
	if o == nil {
		return q
	}
	if o.IncludeRemoved.IsSome() {
		q.Set("includeRemoved", strconv.FormatBool(o.IncludeRemoved.Unwrap()))
	}
	if o.Limit.IsSome() {
		q.Set("limit", strconv.Itoa(o.Limit.Unwrap()))
	}
	if o.Offset.IsSome() {
		q.Set("offset", strconv.Itoa(o.Offset.Unwrap()))
	}
	return q
}

// ConfigurationClient manages strategies, portfolio strategies and
// subscribers.
type ConfigurationClient struct {
	domain   *rest.DomainClient
	validate *argValidator
}

func newConfigurationClient(domain *rest.DomainClient, v *argValidator) *ConfigurationClient {
	return &ConfigurationClient{
		domain:   domain,
		validate: v,
	}
}

// GenerateAccountID returns a random id for a new subscriber or provider
// account.
func (c *ConfigurationClient) GenerateAccountID() string {
	return GenerateAccountID()
}

// GenerateAccountID returns 32 random alphanumerics.
func GenerateAccountID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateStrategyID asks the server for an unused strategy id.
func (c *ConfigurationClient) GenerateStrategyID(ctx context.Context) (*common.StrategyID, error) {
	var id common.StrategyID
	err := request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodGet,
		Path:   configurationPath + "/unused-strategy-id",
	}, &id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &id, nil
}

// GetStrategies returns the strategies provided by the user.
func (c *ConfigurationClient) GetStrategies(ctx context.Context, opts *ListOpts) ([]common.Strategy, error) {
	var strategies []common.Strategy
	err := request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodGet,
		Path:   configurationPath + "/strategies",
		Query:  opts.query(),
	}, &strategies)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return strategies, nil
}

// GetStrategy returns a strategy by id.
func (c *ConfigurationClient) GetStrategy(ctx context.Context, strategyID string) (*common.Strategy, error) {
	if err := c.validate.Var("strategyId", strategyID, "required"); err != nil {
		return nil, errors.Trace(err)
	}

	var strategy common.Strategy
	err := request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodGet,
		Path:   configurationPath + "/strategies/" + url.PathEscape(strategyID),
	}, &strategy)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &strategy, nil
}

// UpdateStrategy creates or updates a strategy.
func (c *ConfigurationClient) UpdateStrategy(ctx context.Context, strategyID string, strategy *common.StrategyUpdate) error {
	if err := c.validate.Var("strategyId", strategyID, "required"); err != nil {
		return errors.Trace(err)
	}
	if err := c.validate.Present("strategy", strategy != nil); err != nil {
		return errors.Trace(err)
	}
	if err := c.validate.Struct(strategy); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodPut,
		Path:   configurationPath + "/strategies/" + url.PathEscape(strategyID),
		Body:   strategy,
	}, nil))
}

// RemoveStrategy deletes a strategy. closeInstructions may be nil.
func (c *ConfigurationClient) RemoveStrategy(
	ctx context.Context, strategyID string, closeInstructions *common.CloseInstructions,
) error {
	return errors.Trace(c.remove(ctx, "strategyId", strategyID,
		configurationPath+"/strategies/"+url.PathEscape(strategyID), closeInstructions))
}

// GetPortfolioStrategies returns the portfolio strategies provided by the
// user.
func (c *ConfigurationClient) GetPortfolioStrategies(ctx context.Context, opts *ListOpts) ([]common.PortfolioStrategy, error) {
	var portfolios []common.PortfolioStrategy
	err := request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodGet,
		Path:   configurationPath + "/portfolio-strategies",
		Query:  opts.query(),
	}, &portfolios)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return portfolios, nil
}

// GetPortfolioStrategy returns a portfolio strategy by id.
func (c *ConfigurationClient) GetPortfolioStrategy(ctx context.Context, portfolioID string) (*common.PortfolioStrategy, error) {
	if err := c.validate.Var("portfolioId", portfolioID, "required"); err != nil {
		return nil, errors.Trace(err)
	}

	var portfolio common.PortfolioStrategy
	err := request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodGet,
		Path:   configurationPath + "/portfolio-strategies/" + url.PathEscape(portfolioID),
	}, &portfolio)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &portfolio, nil
}

// UpdatePortfolioStrategy creates or updates a portfolio strategy.
func (c *ConfigurationClient) UpdatePortfolioStrategy(
	ctx context.Context, portfolioID string, portfolio *common.PortfolioStrategyUpdate,
) error {
	if err := c.validate.Var("portfolioId", portfolioID, "required"); err != nil {
		return errors.Trace(err)
	}
	if err := c.validate.Present("portfolio", portfolio != nil); err != nil {
		return errors.Trace(err)
	}
	if err := c.validate.Struct(portfolio); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodPut,
		Path:   configurationPath + "/portfolio-strategies/" + url.PathEscape(portfolioID),
		Body:   portfolio,
	}, nil))
}

// RemovePortfolioStrategy deletes a portfolio strategy. closeInstructions
// may be nil.
func (c *ConfigurationClient) RemovePortfolioStrategy(
	ctx context.Context, portfolioID string, closeInstructions *common.CloseInstructions,
) error {
	return errors.Trace(c.remove(ctx, "portfolioId", portfolioID,
		configurationPath+"/portfolio-strategies/"+url.PathEscape(portfolioID), closeInstructions))
}

// RemovePortfolioStrategyMember removes one strategy from a portfolio.
func (c *ConfigurationClient) RemovePortfolioStrategyMember(
	ctx context.Context, portfolioID, strategyID string, closeInstructions *common.CloseInstructions,
) error {
	if err := c.validate.Var("portfolioId", portfolioID, "required"); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.remove(ctx, "strategyId", strategyID,
		configurationPath+"/portfolio-strategies/"+url.PathEscape(portfolioID)+
			"/members/"+url.PathEscape(strategyID), closeInstructions))
}

// GetSubscribers returns the subscribers of the user.
func (c *ConfigurationClient) GetSubscribers(ctx context.Context, opts *ListOpts) ([]common.Subscriber, error) {
	var subscribers []common.Subscriber
	err := request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodGet,
		Path:   configurationPath + "/subscribers",
		Query:  opts.query(),
	}, &subscribers)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return subscribers, nil
}

// GetSubscriber returns a subscriber by id.
func (c *ConfigurationClient) GetSubscriber(ctx context.Context, subscriberID string) (*common.Subscriber, error) {
	if err := c.validate.Var("subscriberId", subscriberID, "required"); err != nil {
		return nil, errors.Trace(err)
	}

	var subscriber common.Subscriber
	err := request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodGet,
		Path:   configurationPath + "/subscribers/" + url.PathEscape(subscriberID),
	}, &subscriber)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &subscriber, nil
}

// UpdateSubscriber creates or updates a subscriber.
func (c *ConfigurationClient) UpdateSubscriber(
	ctx context.Context, subscriberID string, subscriber *common.SubscriberUpdate,
) error {
	if err := c.validate.Var("subscriberId", subscriberID, "required"); err != nil {
		return errors.Trace(err)
	}
	if err := c.validate.Present("subscriber", subscriber != nil); err != nil {
		return errors.Trace(err)
	}
	if err := c.validate.Struct(subscriber); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(request(ctx, c.domain, &rest.RequestOpts{
		Method: http.MethodPut,
		Path:   configurationPath + "/subscribers/" + url.PathEscape(subscriberID),
		Body:   subscriber,
	}, nil))
}

// RemoveSubscriber deletes a subscriber. closeInstructions may be nil.
func (c *ConfigurationClient) RemoveSubscriber(
	ctx context.Context, subscriberID string, closeInstructions *common.CloseInstructions,
) error {
	return errors.Trace(c.remove(ctx, "subscriberId", subscriberID,
		configurationPath+"/subscribers/"+url.PathEscape(subscriberID), closeInstructions))
}

// RemoveSubscription stops copying one strategy to a subscriber.
func (c *ConfigurationClient) RemoveSubscription(
	ctx context.Context, subscriberID, strategyID string, closeInstructions *common.CloseInstructions,
) error {
	if err := c.validate.Var("subscriberId", subscriberID, "required"); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.remove(ctx, "strategyId", strategyID,
		configurationPath+"/subscribers/"+url.PathEscape(subscriberID)+
			"/subscriptions/"+url.PathEscape(strategyID), closeInstructions))
}

// remove sends a DELETE, with close instructions in the body if given.
func (c *ConfigurationClient) remove(
	ctx context.Context, idName, id, path string, closeInstructions *common.CloseInstructions,
) error {
	if err := c.validate.Var(idName, id, "required"); err != nil {
		return errors.Trace(err)
	}

	opts := &rest.RequestOpts{
		Method: http.MethodDelete,
		Path:   path,
	}

	if closeInstructions != nil {
		if err := c.validate.Struct(closeInstructions); err != nil {
			return errors.Trace(err)
		}
		opts.Body = closeInstructions
	}

	return errors.Trace(request(ctx, c.domain, opts, nil))
}
