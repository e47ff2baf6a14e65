package common

import (
	"time"
)

// CloseMode controls what happens to open positions when a strategy,
// subscriber or subscription is removed.
type CloseMode string

// The following constants define every close mode accepted by the service.
const (
	ClosePreserve             CloseMode = "preserve"
	CloseGracefullyByPosition CloseMode = "close-gracefully-by-position"
	CloseGracefullyBySymbol   CloseMode = "close-gracefully-by-symbol"
	CloseImmediately          CloseMode = "close-immediately"
)

// Bounds of CloseInstructions.RemoveAfter, in days from now.
const (
	RemoveAfterMinDays = 30
	RemoveAfterMaxDays = 90

	removeAfterLowerBoundTolerance = time.Minute
)

// CloseInstructions are optional instructions sent along with removal
// requests. RemoveAfter must be between 30 and 90 days ahead; when it is
// nil, the service applies its own default of 30 days.
type CloseInstructions struct {
	Mode        CloseMode  `json:"mode,omitempty" validate:"omitempty,oneof=preserve close-gracefully-by-position close-gracefully-by-symbol close-immediately"`
	RemoveAfter *time.Time `json:"removeAfter,omitempty" validate:"omitempty,removeafter"`
}

// RemoveAfterInRange reports whether t is an acceptable removal deadline
// relative to now.
func RemoveAfterInRange(t, now time.Time) bool {
	lower := now.Add(RemoveAfterMinDays*24*time.Hour - removeAfterLowerBoundTolerance)
	upper := now.Add(RemoveAfterMaxDays * 24 * time.Hour)
	return !t.Before(lower) && !t.After(upper)
}

// StrategyID is returned when the service generates a new strategy id.
type StrategyID struct {
	ID string `json:"id"`
}

// StrategyIDAndName identifies a strategy in events and transactions.
type StrategyIDAndName struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// StopOutSettings is a stop out threshold.
type StopOutSettings struct {
	Value     float64    `json:"value"`
	StartTime *time.Time `json:"startTime,omitempty"`
}

// SymbolFilter limits copied symbols.
type SymbolFilter struct {
	Included []string `json:"included,omitempty"`
	Excluded []string `json:"excluded,omitempty"`
}

// MagicFilter limits copied magic numbers.
type MagicFilter struct {
	Included []string `json:"included,omitempty"`
	Excluded []string `json:"excluded,omitempty"`
}

// BreakingNewsFilter stops copying around breaking news of the given
// priorities.
type BreakingNewsFilter struct {
	Priorities                            []string `json:"priorities"`
	ClosePositionTimeGapInMinutes         *int     `json:"closePositionTimeGapInMinutes,omitempty"`
	OpenPositionFollowingTimeGapInMinutes *int     `json:"openPositionFollowingTimeGapInMinutes,omitempty"`
}

// CalendarNewsFilter stops copying around calendar news of the given
// priorities.
type CalendarNewsFilter struct {
	Priorities                            []string `json:"priorities"`
	ClosePositionTimeGapInMinutes         *int     `json:"closePositionTimeGapInMinutes,omitempty"`
	OpenPositionPrecedingTimeGapInMinutes *int     `json:"openPositionPrecedingTimeGapInMinutes,omitempty"`
	OpenPositionFollowingTimeGapInMinutes *int     `json:"openPositionFollowingTimeGapInMinutes,omitempty"`
}

// NewsFilter combines the news filters.
type NewsFilter struct {
	BreakingNewsFilter *BreakingNewsFilter `json:"breakingNewsFilter,omitempty"`
	CalendarNewsFilter *CalendarNewsFilter `json:"calendarNewsFilter,omitempty"`
}

// RiskLimit restricts the loss a subscriber may take over a period. Type is
// one of day, date, week, week-to-date, month, month-to-date, quarter,
// quarter-to-date, year, year-to-date, lifetime; ApplyTo is balance,
// equity or balance-difference.
type RiskLimit struct {
	Type           string     `json:"type"`
	ApplyTo        string     `json:"applyTo"`
	MaxRisk        float64    `json:"maxRisk"`
	ClosePositions bool       `json:"closePositions"`
	StartTime      *time.Time `json:"startTime,omitempty"`
}

// MaxStopLoss caps the stop loss of copied trades. Units is pips, the only
// unit supported by the service.
type MaxStopLoss struct {
	Value float64 `json:"value"`
	Units string  `json:"units"`
}

// SymbolMapping renames a strategy symbol on the subscriber side.
type SymbolMapping struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TradeSizeScaling defines how trade volume is scaled on the subscriber
// side. Mode is one of balance, equity, contractSize, fixedVolume,
// fixedRisk, expression.
type TradeSizeScaling struct {
	Mode         string   `json:"mode"`
	TradeVolume  *float64 `json:"tradeVolume,omitempty"`
	RiskFraction *float64 `json:"riskFraction,omitempty"`
	Expression   string   `json:"expression,omitempty"`
}

// CommissionScheme describes the commissions of a strategy provider.
type CommissionScheme struct {
	Type           string   `json:"type"`
	BillingPeriod  string   `json:"billingPeriod,omitempty"`
	CommissionRate *float64 `json:"commissionRate,omitempty"`
}

// TimeSettings limits the lifetime and opening window of copied
// positions.
type TimeSettings struct {
	LifetimeInHours          *int `json:"lifetimeInHours,omitempty"`
	OpeningIntervalInMinutes *int `json:"openingIntervalInMinutes,omitempty"`
}

// EquityCurveFilter stops copying while the strategy equity is below its
// moving average.
type EquityCurveFilter struct {
	Period    int    `json:"period"`
	Timeframe string `json:"timeframe"`
}

// DrawdownFilter gates signals on the strategy drawdown. Action is include
// (copy only above MaxDrawdown) or exclude (copy only below it).
type DrawdownFilter struct {
	MaxDrawdown float64 `json:"maxDrawdown"`
	Action      string  `json:"action"`
}

// RiskSettings holds the copying settings shared by strategies, portfolio
// members, subscriptions and subscribers.
type RiskSettings struct {
	SkipPendingOrders  *bool             `json:"skipPendingOrders,omitempty"`
	MaxTradeRisk       *float64          `json:"maxTradeRisk,omitempty"`
	Reverse            *bool             `json:"reverse,omitempty"`
	ReduceCorrelations string            `json:"reduceCorrelations,omitempty"`
	StopOutRisk        *StopOutSettings  `json:"stopOutRisk,omitempty"`
	SymbolFilter       *SymbolFilter     `json:"symbolFilter,omitempty"`
	NewsFilter         *NewsFilter       `json:"newsFilter,omitempty"`
	RiskLimits         []RiskLimit       `json:"riskLimits,omitempty"`
	MaxStopLoss        *MaxStopLoss      `json:"maxStopLoss,omitempty"`
	MaxLeverage        *float64          `json:"maxLeverage,omitempty"`
	SymbolMapping      []SymbolMapping   `json:"symbolMapping,omitempty"`
	TradeSizeScaling   *TradeSizeScaling `json:"tradeSizeScaling,omitempty"`
	CopyStopLoss       *bool             `json:"copyStopLoss,omitempty"`
	CopyTakeProfit     *bool             `json:"copyTakeProfit,omitempty"`
	MinTradeVolume     *float64          `json:"minTradeVolume,omitempty"`
	MaxTradeVolume     *float64          `json:"maxTradeVolume,omitempty"`
}

// StrategyUpdate is the payload of a strategy update request.
type StrategyUpdate struct {
	Name              string             `json:"name" validate:"required"`
	Description       string             `json:"description"`
	AccountID         string             `json:"accountId" validate:"required"`
	CommissionScheme  *CommissionScheme  `json:"commissionScheme,omitempty"`
	MagicFilter       *MagicFilter       `json:"magicFilter,omitempty"`
	EquityCurveFilter *EquityCurveFilter `json:"equityCurveFilter,omitempty"`
	DrawdownFilter    *DrawdownFilter    `json:"drawdownFilter,omitempty"`
	SymbolsTraded     []string           `json:"symbolsTraded,omitempty"`
	TimeSettings      *TimeSettings      `json:"timeSettings,omitempty"`
	RiskSettings
}

// Strategy is a trading strategy as returned by the service.
type Strategy struct {
	ID                     string    `json:"_id"`
	PlatformCommissionRate float64   `json:"platformCommissionRate"`
	CloseOnRemovalMode     CloseMode `json:"closeOnRemovalMode,omitempty"`
	Removed                bool      `json:"removed,omitempty"`
	StrategyUpdate
}

// PortfolioStrategyMember is a strategy included into a portfolio.
type PortfolioStrategyMember struct {
	StrategyID string  `json:"strategyId" validate:"required"`
	Multiplier float64 `json:"multiplier"`
	RiskSettings
}

// PortfolioStrategyUpdate is the payload of a portfolio strategy update.
type PortfolioStrategyUpdate struct {
	Name             string                    `json:"name" validate:"required"`
	Description      string                    `json:"description"`
	Members          []PortfolioStrategyMember `json:"members" validate:"dive"`
	CommissionScheme *CommissionScheme         `json:"commissionScheme,omitempty"`
	RiskSettings
}

// PortfolioStrategy is a portfolio strategy as returned by the service.
type PortfolioStrategy struct {
	ID                     string  `json:"_id"`
	PlatformCommissionRate float64 `json:"platformCommissionRate"`
	Removed                bool    `json:"removed,omitempty"`
	PortfolioStrategyUpdate
}

// Subscription binds a subscriber to a strategy.
type Subscription struct {
	StrategyID string   `json:"strategyId" validate:"required"`
	Multiplier *float64 `json:"multiplier,omitempty"`
	CloseOnly  string   `json:"closeOnly,omitempty"`
	Removed    bool     `json:"removed,omitempty"`
	RiskSettings
}

// SubscriberUpdate is the payload of a subscriber update request.
type SubscriberUpdate struct {
	Name                   string         `json:"name" validate:"required"`
	ReservedMarginFraction *float64       `json:"reservedMarginFraction,omitempty"`
	PhoneNumbers           []string       `json:"phoneNumbers,omitempty"`
	MinTradeAmount         *float64       `json:"minTradeAmount,omitempty"`
	CloseOnly              string         `json:"closeOnly,omitempty"`
	Subscriptions          []Subscription `json:"subscriptions,omitempty" validate:"dive"`
	RiskSettings
}

// Subscriber is a subscriber account configuration.
type Subscriber struct {
	ID string `json:"_id"`
	SubscriberUpdate
}
