package main

import (
	"strings"

	"github.com/juju/errors"

	"github.com/y3sh/copyfactory-sdk-go/client/copyfactory"
	"github.com/y3sh/copyfactory-sdk-go/client/streaming"
	"github.com/y3sh/copyfactory-sdk-go/common"
)

// Listen kinds accepted by --listen.
const (
	listenStopout                = "stopout"
	listenStrategyTransactions   = "strategy-transactions"
	listenSubscriberTransactions = "subscriber-transactions"
	listenStrategyLog            = "strategy-log"
	listenSubscriberLog          = "subscriber-log"
)

// listenTarget is a parsed --listen value: a listener kind and its subject.
type listenTarget struct {
	Kind string
	ID   string
}

// parseListenTarget parses "kind:id". The id is optional for stopouts, where
// it narrows the stream to one subscriber account.
func parseListenTarget(s string) (listenTarget, error) {
	kind, id, _ := strings.Cut(strings.TrimSpace(s), ":")

	target := listenTarget{Kind: kind, ID: id}

	switch kind {
	case listenStopout:
		return target, nil

	case listenStrategyTransactions, listenSubscriberTransactions,
		listenStrategyLog, listenSubscriberLog:
		if id == "" {
			return listenTarget{}, errors.Errorf("listener %q needs an id, e.g. %s:<id>", s, kind)
		}
		return target, nil
	}

	return listenTarget{}, errors.Errorf("unknown listener kind %q", kind)
}

// register adds l for the target and returns the listener id.
func (lt listenTarget) register(cf *copyfactory.CopyFactory, l *fanout) (string, error) {
	switch lt.Kind {
	case listenStopout:
		return cf.Trading.AddStopoutListener(l, &streaming.StopoutListenerOpts{AccountID: lt.ID}), nil
	case listenStrategyTransactions:
		id, err := cf.History.AddStrategyTransactionListener(l, lt.ID, nil)
		return id, errors.Trace(err)
	case listenSubscriberTransactions:
		id, err := cf.History.AddSubscriberTransactionListener(l, lt.ID, nil)
		return id, errors.Trace(err)
	case listenStrategyLog:
		id, err := cf.Trading.AddStrategyLogListener(l, lt.ID, nil)
		return id, errors.Trace(err)
	case listenSubscriberLog:
		id, err := cf.Trading.AddSubscriberLogListener(l, lt.ID, nil)
		return id, errors.Trace(err)
	}
	return "", errors.Errorf("unknown listener kind %q", lt.Kind)
}

// fanout passes events to every target implementing the matching listener
// interface. The first callback error is returned.
type fanout struct {
	targets []interface{}
}

func (f *fanout) OnStopout(stopouts []common.Stopout) error {
	var first error
	for _, t := range f.targets {
		if l, ok := t.(streaming.StopoutListener); ok {
			if err := l.OnStopout(stopouts); err != nil && first == nil {
				first = err
			}
		}
	}
	return errors.Trace(first)
}

func (f *fanout) OnTransaction(transactions []common.Transaction) error {
	var first error
	for _, t := range f.targets {
		if l, ok := t.(streaming.TransactionListener); ok {
			if err := l.OnTransaction(transactions); err != nil && first == nil {
				first = err
			}
		}
	}
	return errors.Trace(first)
}

func (f *fanout) OnUserLog(messages []common.UserLogMessage) error {
	var first error
	for _, t := range f.targets {
		if l, ok := t.(streaming.UserLogListener); ok {
			if err := l.OnUserLog(messages); err != nil && first == nil {
				first = err
			}
		}
	}
	return errors.Trace(first)
}

func (f *fanout) OnError(err error) {
	for _, t := range f.targets {
		if l, ok := t.(streaming.ErrorListener); ok {
			l.OnError(err)
		}
	}
}
