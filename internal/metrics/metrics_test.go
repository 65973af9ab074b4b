package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// value returns the first sample of a gauge or counter family.
func value(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		metric := f.GetMetric()[0]
		if g := metric.GetGauge(); g != nil {
			return g.GetValue()
		}
		return metric.GetCounter().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestMetrics(t *testing.T) {
	m := New()
	active := 3
	m.WatchSubscriptions(func() int { return active })

	m.SetOnline(2)
	m.PresenceEvent("login")
	m.PresenceEvent("login")
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SessionStarted()
	m.FrameDropped()

	require.Equal(t, 2.0, value(t, m, "studiodesk_online_users"))
	require.Equal(t, 2.0, value(t, m, "studiodesk_presence_events_total"))
	require.Equal(t, 1.0, value(t, m, "studiodesk_realtime_connections"))
	require.Equal(t, 1.0, value(t, m, "studiodesk_chat_sessions"))
	require.Equal(t, 1.0, value(t, m, "studiodesk_dropped_frames_total"))
	require.Equal(t, 3.0, value(t, m, "studiodesk_live_subscriptions"))

	active = 0
	require.Equal(t, 0.0, value(t, m, "studiodesk_live_subscriptions"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "studiodesk_online_users 2")
}
