package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initMetrics(t *testing.T) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	Init(logger)
	EnableMetrics(true)
	t.Cleanup(func() { EnableMetrics(true) })
}

func TestInitRegistersCollectors(t *testing.T) {
	initMetrics(t)
	require.NotNil(t, GetRegistry())
	assert.True(t, IsMetricsEnabled())

	families, err := GetRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["skillcoach_sessions_active"])
	assert.True(t, names["skillcoach_websocket_clients"])
}

func TestSessionCounters(t *testing.T) {
	initMetrics(t)

	before := testutil.ToFloat64(SessionsActive)
	SessionStarted()
	assert.Equal(t, before+1, testutil.ToFloat64(SessionsActive))

	ended := testutil.ToFloat64(SessionsTotal.WithLabelValues("completed"))
	SessionEnded("comprehensive", "completed", 90*time.Second)
	assert.Equal(t, before, testutil.ToFloat64(SessionsActive))
	assert.Equal(t, ended+1, testutil.ToFloat64(SessionsTotal.WithLabelValues("completed")))
}

func TestMomentsAndCelebrations(t *testing.T) {
	initMetrics(t)

	moments := testutil.ToFloat64(MomentsDetected.WithLabelValues("leadership"))
	celebrations := testutil.ToFloat64(Celebrations)

	RecordMoment("leadership", false)
	RecordMoment("leadership", true)

	assert.Equal(t, moments+2, testutil.ToFloat64(MomentsDetected.WithLabelValues("leadership")))
	assert.Equal(t, celebrations+1, testutil.ToFloat64(Celebrations))
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	initMetrics(t)

	dropped := testutil.ToFloat64(SignalsDropped.WithLabelValues("unknown_session"))
	EnableMetrics(false)
	assert.False(t, IsMetricsEnabled())

	RecordDroppedSignal("unknown_session")
	ObservePostSessionStage("transcribe")()
	assert.Equal(t, dropped, testutil.ToFloat64(SignalsDropped.WithLabelValues("unknown_session")))
}

func TestGauges(t *testing.T) {
	initMetrics(t)

	SetAMQPConnectionStatus(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(AMQPConnectionStatus))
	SetAMQPConnectionStatus(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(AMQPConnectionStatus))

	SetWebSocketClients(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(WebSocketClients))
}
