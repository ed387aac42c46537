package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"kitchen-voice/internal/domain"
	"kitchen-voice/internal/infra/metrics"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.StateChanged(domain.StateIdle, domain.StateWakeArmed)
	m.StateChanged(domain.StateWakeArmed, domain.StateCommandListening)
	m.SessionStarted("s-1")
	m.SessionStarted("s-2")
	m.CommandDispatched(domain.VoiceCommand{CommandResult: domain.CommandResult{Action: domain.ActionHelp}})
	m.CommandRejected("timeout")
	m.CommandRejected("timeout")
	m.WakeRestarted("keyword")
	m.ParserOutcome("anthropic", "error")
	m.ParserOutcome("local", "ok")
	m.ObserveRequest("POST", "/command", 200, 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("idle", "wake_armed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.State.WithLabelValues("wake_armed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.State.WithLabelValues("command_listening")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsDispatched.WithLabelValues("help")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandsRejected.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WakeRestarts.WithLabelValues("keyword")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParserOutcomes.WithLabelValues("anthropic", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestCount.WithLabelValues("POST", "/command", "200")))

	count, err := testutil.GatherAndCount(reg, "kitchen_voice_http_request_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}
