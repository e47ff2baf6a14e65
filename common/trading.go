package common

import (
	"strings"
	"time"

	"github.com/juju/errors"
)

// StopoutReason is the reason a strategy was stopped out for a subscriber.
type StopoutReason string

// The following constants define all stopout reasons; the same values are
// accepted when resetting stopouts.
const (
	StopoutYearlyBalance  StopoutReason = "yearly-balance"
	StopoutMonthlyBalance StopoutReason = "monthly-balance"
	StopoutDailyBalance   StopoutReason = "daily-balance"
	StopoutYearlyEquity   StopoutReason = "yearly-equity"
	StopoutMonthlyEquity  StopoutReason = "monthly-equity"
	StopoutDailyEquity    StopoutReason = "daily-equity"
	StopoutMaxDrawdown    StopoutReason = "max-drawdown"
)

// StopoutReasons lists every valid StopoutReason.
var StopoutReasons = []StopoutReason{
	StopoutYearlyBalance,
	StopoutMonthlyBalance,
	StopoutDailyBalance,
	StopoutYearlyEquity,
	StopoutMonthlyEquity,
	StopoutDailyEquity,
	StopoutMaxDrawdown,
}

// ParseStopoutReason returns the StopoutReason named by s.
func ParseStopoutReason(s string) (StopoutReason, error) {
	for _, r := range StopoutReasons {
		if string(r) == s {
			return r, nil
		}
	}
	return "", errors.Errorf("unknown stopout reason %q", s)
}

// Stopout is a strategy stopout. SequenceNumber is only set on stopouts
// received from the stopout stream.
type Stopout struct {
	Strategy          StrategyIDAndName `json:"strategy"`
	SubscriberID      string            `json:"subscriberId,omitempty"`
	Partial           bool              `json:"partial"`
	Reason            StopoutReason     `json:"reason"`
	ReasonDescription string            `json:"reasonDescription,omitempty"`
	ClosePositions    bool              `json:"closePositions,omitempty"`
	StoppedAt         time.Time         `json:"stoppedAt"`
	StoppedTill       *time.Time        `json:"stoppedTill,omitempty"`
	SequenceNumber    int64             `json:"sequenceNumber,omitempty"`
}

// LogLevel is the level of a user log record.
type LogLevel string

// The following constants define every user log level.
const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// ParseLogLevel returns the LogLevel named by s, case-insensitively.
func ParseLogLevel(s string) (LogLevel, error) {
	switch l := LogLevel(strings.ToUpper(s)); l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return l, nil
	}
	return "", errors.Errorf("unknown log level %q", s)
}

// UserLogMessage is a trade copying user log record.
type UserLogMessage struct {
	Time         time.Time `json:"time"`
	Symbol       string    `json:"symbol,omitempty"`
	StrategyID   string    `json:"strategyId,omitempty"`
	StrategyName string    `json:"strategyName,omitempty"`
	PositionID   string    `json:"positionId,omitempty"`
	Side         string    `json:"side,omitempty"`
	Type         string    `json:"type,omitempty"`
	OpenPrice    *float64  `json:"openPrice,omitempty"`
	Level        LogLevel  `json:"level"`
	Message      string    `json:"message"`
}

// LatestUserLogTime returns the greatest Time among msgs, or the zero time
// when msgs is empty.
func LatestUserLogTime(msgs []UserLogMessage) time.Time {
	var latest time.Time
	for _, m := range msgs {
		if m.Time.After(latest) {
			latest = m.Time
		}
	}
	return latest
}

// SignalType is the type of an external signal.
type SignalType string

// The following constants define all external signal types.
const (
	SignalBuy       SignalType = "POSITION_TYPE_BUY"
	SignalSell      SignalType = "POSITION_TYPE_SELL"
	SignalBuyLimit  SignalType = "ORDER_TYPE_BUY_LIMIT"
	SignalSellLimit SignalType = "ORDER_TYPE_SELL_LIMIT"
	SignalBuyStop   SignalType = "ORDER_TYPE_BUY_STOP"
	SignalSellStop  SignalType = "ORDER_TYPE_SELL_STOP"
)

// ExternalSignalUpdate is the payload of an external signal update.
type ExternalSignalUpdate struct {
	Symbol     string     `json:"symbol" validate:"required"`
	Type       SignalType `json:"type" validate:"required,oneof=POSITION_TYPE_BUY POSITION_TYPE_SELL ORDER_TYPE_BUY_LIMIT ORDER_TYPE_SELL_LIMIT ORDER_TYPE_BUY_STOP ORDER_TYPE_SELL_STOP"`
	Time       time.Time  `json:"time" validate:"required"`
	UpdateTime *time.Time `json:"updateTime,omitempty"`
	Volume     float64    `json:"volume" validate:"gt=0"`
	Magic      *int64     `json:"magic,omitempty"`
	StopLoss   *float64   `json:"stopLoss,omitempty" validate:"omitempty,gt=0"`
	TakeProfit *float64   `json:"takeProfit,omitempty" validate:"omitempty,gt=0"`
	OpenPrice  *float64   `json:"openPrice,omitempty" validate:"omitempty,gt=0"`
}

// ExternalSignal is an external signal registered for a strategy.
type ExternalSignal struct {
	ID string `json:"id"`
	ExternalSignalUpdate
}

// ExternalSignalRemove is the payload of an external signal removal.
type ExternalSignalRemove struct {
	Time time.Time `json:"time" validate:"required"`
}

// TradingSignal is a signal copied to a subscriber.
type TradingSignal struct {
	Strategy         StrategyIDAndName `json:"strategy"`
	PositionID       string            `json:"positionId"`
	Time             time.Time         `json:"time"`
	Symbol           string            `json:"symbol"`
	Type             string            `json:"type"`
	Side             string            `json:"side"`
	OpenPrice        *float64          `json:"openPrice,omitempty"`
	StopLoss         *float64          `json:"stopLoss,omitempty"`
	TakeProfit       *float64          `json:"takeProfit,omitempty"`
	SignalVolume     float64           `json:"signalVolume"`
	SubscriberVolume float64           `json:"subscriberVolume"`
	SubscriberProfit float64           `json:"subscriberProfit"`
	CloseAfter       *time.Time        `json:"closeAfter,omitempty"`
	CloseOnly        bool              `json:"closeOnly,omitempty"`
}
