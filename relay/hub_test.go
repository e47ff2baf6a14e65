package relay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/y3sh/copyfactory-sdk-go/common"
)

const testTimeout = 2 * time.Second

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatal(errors.ErrorStack(err))
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestHubBroadcasts(t *testing.T) {
	h := NewHub(nil)
	ts := httptest.NewServer(h)
	defer ts.Close()
	defer h.Close()

	conn1 := dial(t, ts)
	defer conn1.Close()
	conn2 := dial(t, ts)
	defer conn2.Close()

	require.Eventually(t, func() bool {
		return h.Clients() == 2
	}, testTimeout, 5*time.Millisecond)

	require.NoError(t, h.OnStopout([]common.Stopout{
		{Reason: common.StopoutDailyBalance, SequenceNumber: 3},
	}))
	h.OnError(errors.New("fetch failed"))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		f := readFrame(t, conn)
		assert.Equal(t, FrameStopout, f.Type)

		var stopouts []common.Stopout
		require.NoError(t, json.Unmarshal(f.Data, &stopouts))
		require.Len(t, stopouts, 1)
		assert.Equal(t, int64(3), stopouts[0].SequenceNumber)

		f = readFrame(t, conn)
		assert.Equal(t, FrameError, f.Type)
		assert.Equal(t, "fetch failed", f.Error)
	}
}

func TestHubClientDisconnects(t *testing.T) {
	h := NewHub(nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	conn := dial(t, ts)
	require.Eventually(t, func() bool {
		return h.Clients() == 1
	}, testTimeout, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return h.Clients() == 0
	}, testTimeout, 5*time.Millisecond)

	// Nobody listens, nothing fails.
	require.NoError(t, h.OnUserLog([]common.UserLogMessage{{Message: "m"}}))
}

func TestHubDropsSlowClients(t *testing.T) {
	h := NewHub(&HubParams{SendBuffer: 1})

	// Without a writeLoop, the queue is never drained.
	c := &client{
		send: make(chan []byte, 1),
		done: make(chan struct{}),
	}
	require.NoError(t, h.register(c))

	require.NoError(t, h.OnTransaction([]common.Transaction{{ID: "t1"}}))
	assert.Equal(t, 1, h.Clients())

	require.NoError(t, h.OnTransaction([]common.Transaction{{ID: "t2"}}))
	assert.Equal(t, 0, h.Clients())

	select {
	case <-c.done:
	default:
		t.Fatal("client is not closed")
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub(nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return h.Clients() == 1
	}, testTimeout, 5*time.Millisecond)

	require.NoError(t, h.Close())
	assert.Equal(t, 0, h.Clients())

	conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.Equal(t, ErrHubClosed, errors.Cause(h.register(&client{done: make(chan struct{})})))
}
