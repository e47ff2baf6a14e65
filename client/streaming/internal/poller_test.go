package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

// batchScript serves predefined fetch results in turn; after the last one
// it keeps returning empty batches.
type batchScript struct {
	mtx     sync.Mutex
	results []scriptResult
	fetches int
}

type scriptResult struct {
	events []int
	err    error
}

func (s *batchScript) next() (scriptResult, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.fetches++
	if len(s.results) == 0 {
		return scriptResult{}, false
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, true
}

func (s *batchScript) pollFunc(deliver func(events []int) error) PollFunc {
	return func(ctx context.Context) (int, func() error, error) {
		r, ok := s.next()
		if !ok {
			return 0, nil, nil
		}
		if r.err != nil {
			return 0, nil, r.err
		}
		return len(r.events), func() error { return deliver(r.events) }, nil
	}
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatal("timed out")
	}
}

func TestPollerDeliversInOrder(t *testing.T) {
	script := &batchScript{results: []scriptResult{
		{events: []int{1, 2}},
		{events: []int{3}},
	}}

	got := make(chan int, 10)
	p := NewPoller(&PollerParams{
		Poll: script.pollFunc(func(events []int) error {
			for _, e := range events {
				got <- e
			}
			return nil
		}),
		Interval: 5 * time.Millisecond,
	})

	state, _ := p.State()
	assert.Equal(t, PollerStateRegistered, state)

	require.NoError(t, p.Start())
	assert.Equal(t, ErrPollLoopActive, errors.Cause(p.Start()))

	for _, want := range []int{1, 2, 3} {
		select {
		case e := <-got:
			assert.Equal(t, want, e)
		case <-time.After(testTimeout):
			t.Fatal("timed out waiting for events")
		}
	}

	p.Stop()
	p.Stop()
	waitDone(t, p.Done())

	state, _ = p.State()
	assert.Equal(t, PollerStateStopped, state)
	assert.Equal(t, ErrPollerStopped, errors.Cause(p.Start()))
}

func TestPollerStopDuringFetch(t *testing.T) {
	fetching := make(chan struct{})
	release := make(chan struct{})
	var delivered int

	p := NewPoller(&PollerParams{
		Poll: func(ctx context.Context) (int, func() error, error) {
			close(fetching)
			<-release
			return 1, func() error {
				delivered++
				return nil
			}, nil
		},
		OnError: func(err error) {
			t.Errorf("unexpected error %v", err)
		},
	})
	require.NoError(t, p.Start())

	<-fetching
	p.Stop()
	close(release)

	waitDone(t, p.Done())
	assert.Equal(t, 0, delivered)
}

func TestPollerCallbackIsolation(t *testing.T) {
	callbackErr := errors.New("callback failed")
	script := &batchScript{results: []scriptResult{
		{events: []int{1}},
		{events: []int{2}},
		{events: []int{3}},
	}}

	var (
		mtx    sync.Mutex
		errs   []error
		gotAll = make(chan struct{})
	)

	p := NewPoller(&PollerParams{
		Poll: script.pollFunc(func(events []int) error {
			switch events[0] {
			case 1:
				panic("boom")
			case 2:
				return callbackErr
			}
			close(gotAll)
			return nil
		}),
		OnError: func(err error) {
			mtx.Lock()
			errs = append(errs, err)
			mtx.Unlock()
		},
		Interval: 5 * time.Millisecond,
	})
	require.NoError(t, p.Start())
	defer p.Stop()

	waitDone(t, gotAll)

	mtx.Lock()
	defer mtx.Unlock()
	require.Len(t, errs, 2)
	panicErr, ok := errs[0].(*PanicError)
	require.True(t, ok, "got %v", errs[0])
	assert.Equal(t, "boom", panicErr.Value)
	assert.True(t, errs[1] == callbackErr)
}

func TestPollerContinuesAfterFetchErrors(t *testing.T) {
	fetchErr := errors.New("network down")
	script := &batchScript{results: []scriptResult{
		{err: fetchErr},
		{err: fetchErr},
		{events: []int{7}},
	}}

	var (
		mtx      sync.Mutex
		backoffs []int
		errCount int
	)
	delivered := make(chan int, 1)

	p := NewPoller(&PollerParams{
		Poll: script.pollFunc(func(events []int) error {
			delivered <- events[0]
			return nil
		}),
		OnError: func(err error) {
			mtx.Lock()
			errCount++
			mtx.Unlock()
			panic("error callback panics too")
		},
		Backoff: func(n int, err error) time.Duration {
			mtx.Lock()
			backoffs = append(backoffs, n)
			mtx.Unlock()
			return time.Millisecond
		},
		Interval: 5 * time.Millisecond,
	})
	require.NoError(t, p.Start())
	defer p.Stop()

	select {
	case e := <-delivered:
		assert.Equal(t, 7, e)
	case <-time.After(testTimeout):
		t.Fatal("timed out")
	}

	mtx.Lock()
	defer mtx.Unlock()
	assert.Equal(t, []int{1, 2}, backoffs)
	assert.Equal(t, 2, errCount)
}

func TestPollerFatalError(t *testing.T) {
	fatal := errors.New("unauthorized")

	var (
		mtx         sync.Mutex
		transitions []PollerState
	)

	p := NewPoller(&PollerParams{
		Poll: func(ctx context.Context) (int, func() error, error) {
			return 0, nil, fatal
		},
		Fatal: func(err error) bool {
			return err == fatal
		},
		OnStateChange: func(oldState, state PollerState, cause error) {
			mtx.Lock()
			transitions = append(transitions, state)
			mtx.Unlock()
		},
	})
	require.NoError(t, p.Start())
	waitDone(t, p.Done())

	state, cause := p.State()
	assert.Equal(t, PollerStateFailed, state)
	assert.True(t, cause == fatal)

	p.Stop()
	state, _ = p.State()
	assert.Equal(t, PollerStateStopped, state)

	mtx.Lock()
	defer mtx.Unlock()
	assert.Equal(t, []PollerState{PollerStatePolling, PollerStateFailed, PollerStateStopped}, transitions)
}

func TestPollerStopBeforeStart(t *testing.T) {
	p := NewPoller(&PollerParams{
		Poll: func(ctx context.Context) (int, func() error, error) {
			t.Error("must not fetch")
			return 0, nil, nil
		},
	})

	p.Stop()
	waitDone(t, p.Done())
	assert.Equal(t, ErrPollerStopped, errors.Cause(p.Start()))
}

func TestPollerStopBetweenFetchAndDispatch(t *testing.T) {
	delivered := make(chan struct{}, 1)

	var p *Poller
	p = NewPoller(&PollerParams{
		Poll: func(ctx context.Context) (int, func() error, error) {
			return 1, func() error {
				delivered <- struct{}{}
				return nil
			}, nil
		},
		beforeDispatch: func() {
			p.Stop()
		},
	})
	require.NoError(t, p.Start())
	waitDone(t, p.Done())

	select {
	case <-delivered:
		t.Fatal("batch dispatched after Stop returned")
	default:
	}

	state, _ := p.State()
	assert.Equal(t, PollerStateStopped, state)
}

func TestPollerDefaults(t *testing.T) {
	p := NewPoller(&PollerParams{
		Poll: func(ctx context.Context) (int, func() error, error) {
			return 0, nil, nil
		},
	})

	assert.Equal(t, DefaultInterval, p.params.Interval)
	assert.Equal(t, DefaultInterval, p.params.Backoff(3, errors.New("boom")))
	assert.Equal(t, "failed", PollerStateFailed.String())
}
