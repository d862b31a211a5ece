package transport

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startChart(t *testing.T, conn *scriptedConn) *ChartSocket {
	t.Helper()
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}
	chart := NewChartSocket(Options{
		Endpoint:  "wss://chart.venue.test/socket",
		Reconnect: testPolicy(1),
		Dialer:    dialer.dial,
		sleeper:   func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, chart.Start(context.Background()))
	t.Cleanup(func() { _ = chart.Close(time.Second) })
	return chart
}

func waitForWrites(t *testing.T, conn *scriptedConn, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if writes := conn.written(); len(writes) >= n {
			return writes
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes, got %d", n, len(conn.written()))
	return nil
}

func TestChartOpenTriggersAckAndSubscription(t *testing.T) {
	conn := newScriptedConn([]string{`0{"sid":"chart-1"}`}, nil)
	chart := startChart(t, conn)
	require.NoError(t, chart.SetInstrument(context.Background(), "EURUSD", 60))

	// Replay the open frame after the instrument is set so the
	// subscription command has something to announce.
	conn.results <- readResult{frame: []byte(`0{"sid":"chart-2"}`)}

	writes := waitForWrites(t, conn, 2)
	var sawAck, sawSub bool
	for _, w := range writes {
		text := string(w)
		if text == "40" {
			sawAck = true
		}
		if strings.HasPrefix(text, `42["chart/changeSymbol"`) {
			sawSub = true
			require.Contains(t, text, `"asset":"EURUSD"`)
			require.Contains(t, text, `"period":60`)
		}
	}
	require.True(t, sawAck, "open frame must be acknowledged with 40")
	require.True(t, sawSub, "open frame must re-arm the instrument subscription")
}

func TestChartPingAnsweredWithPong(t *testing.T) {
	conn := newScriptedConn([]string{"2"}, nil)
	startChart(t, conn)

	writes := waitForWrites(t, conn, 1)
	require.Equal(t, "3", string(writes[0]))
}

func TestChartHandshakeAckResubscribes(t *testing.T) {
	conn := newScriptedConn(nil, nil)
	chart := startChart(t, conn)
	require.NoError(t, chart.SetInstrument(context.Background(), "GBPUSD", 300))
	waitForWrites(t, conn, 1)

	conn.results <- readResult{frame: []byte(`40{"sid":"chart-1"}`)}
	writes := waitForWrites(t, conn, 2)
	last := string(writes[len(writes)-1])
	require.True(t, strings.HasPrefix(last, `42["chart/changeSymbol"`))
	require.Contains(t, last, `"asset":"GBPUSD"`)
}

func TestChartForwardsDataFramesVerbatim(t *testing.T) {
	conn := newScriptedConn(nil, nil)
	chart := startChart(t, conn)

	var mu sync.Mutex
	var seen []string
	chart.Subscribe(func(frame []byte) {
		mu.Lock()
		seen = append(seen, string(frame))
		mu.Unlock()
	})

	frames := []string{
		`451-["loadHistoryPeriod",{"_placeholder":true,"num":0}]`,
		`{"asset":"EURUSD","period":60,"history":[[1700000000,1.05]]}`,
	}
	for _, f := range frames {
		conn.results <- readResult{frame: []byte(f)}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == len(frames) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, frames, seen, "data frames pass through untouched")
	require.Empty(t, conn.written(), "data frames provoke no reply")
}

func TestChartSetInstrumentBeforeConnectIsDeferred(t *testing.T) {
	chart := NewChartSocket(Options{
		Endpoint:  "wss://chart.venue.test/socket",
		Reconnect: testPolicy(1),
	})
	require.NoError(t, chart.SetInstrument(context.Background(), "EURUSD", 60))
}
