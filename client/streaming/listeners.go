package streaming

import (
	"github.com/y3sh/copyfactory-sdk-go/common"
)

// StopoutListener receives stopout events. An error returned by OnStopout
// is passed to OnError, if the listener implements ErrorListener; polling
// continues either way.
type StopoutListener interface {
	OnStopout(stopouts []common.Stopout) error
}

// TransactionListener receives transaction events.
type TransactionListener interface {
	OnTransaction(transactions []common.Transaction) error
}

// UserLogListener receives user log records.
type UserLogListener interface {
	OnUserLog(messages []common.UserLogMessage) error
}

// ErrorListener is an optional capability of all listeners: it receives
// fetch errors and errors (or panics) of the event callback. Without it,
// errors are only logged.
type ErrorListener interface {
	OnError(err error)
}

// StopoutListenerFunc adapts a func to StopoutListener.
type StopoutListenerFunc func(stopouts []common.Stopout) error

// OnStopout calls f.
func (f StopoutListenerFunc) OnStopout(stopouts []common.Stopout) error {
	return f(stopouts)
}

// TransactionListenerFunc adapts a func to TransactionListener.
type TransactionListenerFunc func(transactions []common.Transaction) error

// OnTransaction calls f.
func (f TransactionListenerFunc) OnTransaction(transactions []common.Transaction) error {
	return f(transactions)
}

// UserLogListenerFunc adapts a func to UserLogListener.
type UserLogListenerFunc func(messages []common.UserLogMessage) error

// OnUserLog calls f.
func (f UserLogListenerFunc) OnUserLog(messages []common.UserLogMessage) error {
	return f(messages)
}
