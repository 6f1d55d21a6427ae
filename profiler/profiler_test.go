package profiler

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type staticCollector map[string]float64

func (c staticCollector) CollectMetrics() map[string]float64 { return c }

func TestRuntimeProfiler_RecordStage(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{MaxSamples: 3, Clock: clock.NewMock()})

	for _, ms := range []int{10, 20, 30, 40} {
		rp.RecordStage("execute", time.Duration(ms)*time.Millisecond)
	}
	rp.RecordStage("decode", time.Millisecond)

	s := rp.Snapshot()
	require.Len(t, s.Stages, 2)
	assert.Equal(t, "decode", s.Stages[0].Name)

	exec := s.Stages[1]
	assert.Equal(t, "execute", exec.Name)
	assert.Equal(t, 30*time.Millisecond, exec.Avg, "the window keeps the last three samples")
	assert.Equal(t, 10*time.Millisecond, exec.Min)
	assert.Equal(t, 40*time.Millisecond, exec.Max)
	assert.Equal(t, int64(4), exec.Count)
}

func TestRuntimeProfiler_StartOperation(t *testing.T) {
	mock := clock.NewMock()
	rp := NewRuntimeProfiler(ProfilingOptions{Clock: mock})

	done := rp.StartOperation("cycle")
	mock.Add(25 * time.Millisecond)
	done()

	s := rp.Snapshot()
	require.Len(t, s.Stages, 1)
	assert.Equal(t, 25*time.Millisecond, s.Stages[0].Avg)
}

func TestRuntimeProfiler_Metrics(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{Clock: clock.NewMock()})
	rp.RecordMetric("detections", 2)
	rp.RecordMetric("detections", 4)

	s := rp.Snapshot()
	require.Len(t, s.Metrics, 1)
	assert.Equal(t, MetricStats{Name: "detections", Avg: 3, Min: 2, Max: 4, Samples: 2}, s.Metrics[0])
}

func TestRuntimeProfiler_ReportsThroughLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	mock := clock.NewMock()
	rp := NewRuntimeProfiler(ProfilingOptions{
		ReportInterval: time.Second,
		SampleInterval: 500 * time.Millisecond,
		Clock:          mock,
		Logger:         zap.New(core).Sugar(),
	})
	rp.AddMetricsCollector(staticCollector{"queue": 7})
	rp.RecordStage("render", time.Millisecond)

	rp.Start()
	rp.Start()
	mock.Add(time.Second)
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("stage timing").Len() > 0 && len(rp.Snapshot().Metrics) > 0
	}, time.Second, 5*time.Millisecond)
	rp.Stop()
	rp.Stop()

	assert.GreaterOrEqual(t, logs.FilterMessage("runtime profile").Len(), 1)
	s := rp.Snapshot()
	require.NotEmpty(t, s.Metrics)
	assert.Equal(t, "queue", s.Metrics[0].Name)
}

func TestMemSize(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{2 << 20, "2.0 MiB"},
		{3 << 30, "3.0 GiB"},
		{1<<64 - 1, "16.0 EiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, memSize(tt.n), tt.n)
	}
}
