package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, gauge.Write(metric))
	return metric.GetGauge().GetValue()
}

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestIncPipelineStart(t *testing.T) {
	initial := getCounterValue(t, pipelineStarts.WithLabelValues("datagram", "success"))
	IncPipelineStart("datagram", true)
	assert.Equal(t, initial+1, getCounterValue(t, pipelineStarts.WithLabelValues("datagram", "success")))

	initial = getCounterValue(t, pipelineStarts.WithLabelValues("session", "failure"))
	IncPipelineStart("session", false)
	assert.Equal(t, initial+1, getCounterValue(t, pipelineStarts.WithLabelValues("session", "failure")))
}

func TestIncRecordingFinalized(t *testing.T) {
	clean := getCounterValue(t, recordingsFinalized.WithLabelValues("true"))
	forced := getCounterValue(t, recordingsFinalized.WithLabelValues("false"))
	IncRecordingFinalized(true)
	IncRecordingFinalized(false)
	IncRecordingFinalized(false)
	assert.Equal(t, clean+1, getCounterValue(t, recordingsFinalized.WithLabelValues("true")))
	assert.Equal(t, forced+2, getCounterValue(t, recordingsFinalized.WithLabelValues("false")))
}

func TestAddEvicted(t *testing.T) {
	files := getCounterValue(t, filesEvicted)
	bytes := getCounterValue(t, bytesEvicted)
	AddEvicted(2, 4096)
	assert.Equal(t, files+2, getCounterValue(t, filesEvicted))
	assert.Equal(t, bytes+4096, getCounterValue(t, bytesEvicted))
}

func TestGauges(t *testing.T) {
	SetJitterStat(JitterLost, 7)
	assert.Equal(t, 7.0, getGaugeValue(t, jitterStats.WithLabelValues(JitterLost)))

	SetJitterPercent(42)
	assert.Equal(t, 42.0, getGaugeValue(t, jitterPercent))

	SetFrameAge(1500 * time.Millisecond)
	assert.Equal(t, 1.5, getGaugeValue(t, frameAge))
}

func TestSetState(t *testing.T) {
	all := []string{"idle", "starting", "running", "stopping"}
	SetState("running", all)
	for _, s := range all {
		want := 0.0
		if s == "running" {
			want = 1
		}
		assert.Equal(t, want, getGaugeValue(t, controllerState.WithLabelValues(s)), s)
	}
}
