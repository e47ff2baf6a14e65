package common

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the type of a CopyFactory transaction, e.g. DEAL_TYPE_BUY
// or DEAL_TYPE_COMMISSION.
type TransactionType string

// SubscriberOrProviderUser describes the owner of the account on either
// side of a copied transaction.
type SubscriberOrProviderUser struct {
	ID         string              `json:"id"`
	Name       string              `json:"name,omitempty"`
	Strategies []StrategyIDAndName `json:"strategies,omitempty"`
}

// TransactionMetrics holds trade copying quality metrics. Latencies are in
// milliseconds.
type TransactionMetrics struct {
	TradeCopyingLatency                   *float64 `json:"tradeCopyingLatency,omitempty"`
	TradeCopyingSlippageInBasisPoints     *float64 `json:"tradeCopyingSlippageInBasisPoints,omitempty"`
	TradeCopyingSlippageInAccountCurrency *float64 `json:"tradeCopyingSlippageInAccountCurrency,omitempty"`
	MtAndBrokerSignalLatency              *float64 `json:"mtAndBrokerSignalLatency,omitempty"`
	TradeAlgorithmLatency                 *float64 `json:"tradeAlgorithmLatency,omitempty"`
	MtAndBrokerTradeLatency               *float64 `json:"mtAndBrokerTradeLatency,omitempty"`
}

// Transaction is a transaction on a provider or subscriber account. Money
// fields are decimals so that commissions can be summed without drift.
type Transaction struct {
	ID              string                   `json:"id"`
	Type            TransactionType          `json:"type"`
	Time            time.Time                `json:"time"`
	SubscriberID    string                   `json:"subscriberId"`
	Symbol          string                   `json:"symbol,omitempty"`
	SubscriberUser  SubscriberOrProviderUser `json:"subscriberUser"`
	Demo            bool                     `json:"demo"`
	ProviderUser    SubscriberOrProviderUser `json:"providerUser"`
	Strategy        StrategyIDAndName        `json:"strategy"`
	PositionID      string                   `json:"positionId,omitempty"`
	SlavePositionID string                   `json:"slavePositionId,omitempty"`

	Improvement                decimal.Decimal     `json:"improvement"`
	ProviderCommission         decimal.Decimal     `json:"providerCommission"`
	PlatformCommission         decimal.Decimal     `json:"platformCommission"`
	IncomingProviderCommission decimal.NullDecimal `json:"incomingProviderCommission"`
	IncomingPlatformCommission decimal.NullDecimal `json:"incomingPlatformCommission"`
	Quantity                   decimal.NullDecimal `json:"quantity"`
	LotPrice                   decimal.NullDecimal `json:"lotPrice"`
	TickPrice                  decimal.NullDecimal `json:"tickPrice"`
	Amount                     decimal.NullDecimal `json:"amount"`
	Commission                 decimal.NullDecimal `json:"commission"`
	Swap                       decimal.Decimal     `json:"swap"`
	Profit                     decimal.Decimal     `json:"profit"`

	Metrics *TransactionMetrics `json:"metrics,omitempty"`
}

// TotalCommission returns the sum of provider and platform commissions.
func (t *Transaction) TotalCommission() decimal.Decimal {
	return t.ProviderCommission.Add(t.PlatformCommission)
}

// LatestTransactionTime returns the greatest Time among txs, or the zero
// time when txs is empty.
func LatestTransactionTime(txs []Transaction) time.Time {
	var latest time.Time
	for _, tx := range txs {
		if tx.Time.After(latest) {
			latest = tx.Time
		}
	}
	return latest
}
