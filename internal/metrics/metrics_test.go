package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentalon/panelpilot/internal/provision"
)

func TestRunAndToolCounters(t *testing.T) {
	m := New()
	m.RunFinished("answered", 2, 300*time.Millisecond)
	m.RunFinished("answered", 1, 100*time.Millisecond)
	m.RunFinished("loop_limit", 5, time.Second)
	m.ToolExecuted("list_servers", "ok", 10*time.Millisecond)
	m.ToolExecuted("send_power_action", "ambiguous", 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("loop_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("send_power_action", "ambiguous")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.runs))
}

func TestMonitorGauge(t *testing.T) {
	m := New()
	m.MonitorStarted()
	m.MonitorStarted()
	m.MonitorFinished(provision.PhaseSucceeded, 2*time.Minute)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeMonitors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.monitorResults.WithLabelValues(string(provision.PhaseSucceeded))))
}

func TestHandlerExposesInstruments(t *testing.T) {
	m := New()
	m.ToolExecuted("list_servers", "ok", time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `panelpilot_tool_invocations_total{kind="ok",tool="list_servers"} 1`), text)
	assert.Contains(t, text, "panelpilot_provisioning_monitors_active 0")
	assert.Contains(t, text, "go_goroutines")
}
