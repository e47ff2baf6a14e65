package streaming

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/y3sh/copyfactory-sdk-go/common"
)

func TestSubscriberLogListenerQuery(t *testing.T) {
	t0 := mustTimeParse("2020-01-01T00:00:00Z")
	const path = "/users/current/subscribers/sub1/user-log/stream"

	mock, ts := newStreamMock(func(r *http.Request, n int) (int, interface{}) {
		if n == 0 {
			return http.StatusOK, []common.UserLogMessage{
				{Time: t0.Add(2 * time.Second), Level: common.LogLevelError, Message: "second"},
				{Time: t0.Add(time.Second), Level: common.LogLevelWarn, Message: "first"},
			}
		}
		return http.StatusOK, []common.UserLogMessage{}
	})
	defer ts.Close()

	m := NewUserLogListenerManager(newTestDomain(t, ts), testListenerParams())
	defer m.Close(context.Background())

	got := make(chan []common.UserLogMessage, 10)
	_, err := m.AddSubscriberLogListener(UserLogListenerFunc(func(msgs []common.UserLogMessage) error {
		got <- msgs
		return nil
	}), "sub1", &UserLogListenerOpts{
		StartTime:  optional.Some(t0),
		PositionID: optional.Some("p1"),
		StrategyID: optional.Some("s2"),
		Level:      optional.Some(common.LogLevelWarn),
		Limit:      optional.Some(50),
	})
	require.NoError(t, err)

	select {
	case msgs := <-got:
		require.Len(t, msgs, 2)
		assert.Equal(t, "second", msgs[0].Message)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for log messages")
	}

	require.Eventually(t, func() bool {
		return len(mock.queries(path)) >= 2
	}, testTimeout, testTick)

	queries := mock.queries(path)
	assert.Equal(t, "2020-01-01T00:00:00.000Z", queries[0].Get("startTime"))
	assert.Equal(t, "p1", queries[0].Get("positionId"))
	assert.Equal(t, "s2", queries[0].Get("strategyId"))
	assert.Equal(t, "WARN", queries[0].Get("level"))
	assert.Equal(t, "50", queries[0].Get("limit"))
	assert.Equal(t, "2020-01-01T00:00:02.001Z", queries[1].Get("startTime"))
}

func TestStrategyLogListenerIgnoresStrategyFilter(t *testing.T) {
	const path = "/users/current/strategies/s1/user-log/stream"

	mock, ts := newStreamMock(func(r *http.Request, n int) (int, interface{}) {
		return http.StatusOK, []common.UserLogMessage{}
	})
	defer ts.Close()

	m := NewUserLogListenerManager(newTestDomain(t, ts), testListenerParams())
	defer m.Close(context.Background())

	id, err := m.AddStrategyLogListener(UserLogListenerFunc(func(msgs []common.UserLogMessage) error {
		return nil
	}), "s1", &UserLogListenerOpts{StrategyID: optional.Some("other")})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, m.StrategyLogListenerIDs())

	require.Eventually(t, func() bool {
		return len(mock.queries(path)) >= 1
	}, testTimeout, testTick)

	q := mock.queries(path)[0]
	assert.Equal(t, "", q.Get("strategyId"))
	assert.Equal(t, "1000", q.Get("limit"))
}

func TestUserLogListenerPanicIsReported(t *testing.T) {
	t0 := mustTimeParse("2020-01-01T00:00:00Z")

	_, ts := newStreamMock(func(r *http.Request, n int) (int, interface{}) {
		if n < 2 {
			return http.StatusOK, []common.UserLogMessage{
				{Time: t0.Add(time.Duration(n) * time.Second), Message: "m"},
			}
		}
		return http.StatusOK, []common.UserLogMessage{}
	})
	defer ts.Close()

	m := NewUserLogListenerManager(newTestDomain(t, ts), testListenerParams())
	defer m.Close(context.Background())

	var (
		mtx   sync.Mutex
		calls int
	)
	type listener struct {
		UserLogListenerFunc
		*errorRecorder
	}
	l := listener{
		UserLogListenerFunc: func(msgs []common.UserLogMessage) error {
			mtx.Lock()
			defer mtx.Unlock()
			calls++
			if calls == 1 {
				panic("broken listener")
			}
			return nil
		},
		errorRecorder: &errorRecorder{},
	}

	_, err := m.AddSubscriberLogListener(l, "sub1", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mtx.Lock()
		defer mtx.Unlock()
		return calls == 2
	}, testTimeout, testTick)

	errs := l.recorded()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "broken listener")
}
