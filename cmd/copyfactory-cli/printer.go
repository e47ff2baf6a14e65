package main

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/juju/errors"

	"github.com/y3sh/copyfactory-sdk-go/common"
)

// printer writes events as JSON lines, one line per event, colored by
// severity.
type printer struct {
	mtx sync.Mutex
	out io.Writer
	err io.Writer
}

// printedEvent is the line format of printer.
type printedEvent struct {
	Type  string      `json:"type"`
	Event interface{} `json:"event"`
}

func (p *printer) OnStopout(stopouts []common.Stopout) error {
	for _, s := range stopouts {
		if err := p.print("stopout", s, color.New(color.FgRed)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (p *printer) OnTransaction(transactions []common.Transaction) error {
	for _, tx := range transactions {
		if err := p.print("transaction", tx, color.New(color.FgGreen)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (p *printer) OnUserLog(messages []common.UserLogMessage) error {
	for _, m := range messages {
		if err := p.print("user-log", m, levelColor(m.Level)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (p *printer) OnError(err error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	color.New(color.FgRed).Fprintf(p.err, "Error: %s\n", err)
}

func (p *printer) print(typ string, event interface{}, c *color.Color) error {
	data, err := json.Marshal(printedEvent{Type: typ, Event: event})
	if err != nil {
		return errors.Annotatef(err, "encoding %s", typ)
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	if c == nil {
		_, err = p.out.Write(append(data, '\n'))
	} else {
		_, err = c.Fprintln(p.out, string(data))
	}
	return errors.Trace(err)
}

func levelColor(level common.LogLevel) *color.Color {
	switch level {
	case common.LogLevelError:
		return color.New(color.FgRed)
	case common.LogLevelWarn:
		return color.New(color.FgYellow)
	case common.LogLevelDebug:
		return color.New(color.FgHiBlack)
	}
	return nil
}
