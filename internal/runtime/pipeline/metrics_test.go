package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/fluxbridge/sink"
)

func sampleReport() Report {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return Report{
		StartedAt: ts,
		Outcomes: []Outcome{
			{Rule: "temperature", Status: StatusProduced, Extracted: 20, Value: 68},
			{Rule: "humidity", Status: StatusNotFound},
			{Rule: "power", Status: StatusEvaluationFailed, Err: errors.New("division")},
		},
		Points:     sink.Batch{sink.NewPoint("temperature", 68, nil, ts)},
		Dispatched: true,
	}
}

func TestMetricsRecordReport(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	m.RecordReport(sampleReport(), ResultOK)
	m.RecordReport(sampleReport(), ResultOK)

	temp := m.Rule("temperature")
	require.NotNil(t, temp)
	assert.Equal(t, uint64(2), temp.Produced)
	assert.Equal(t, 68.0, temp.LastValue)
	assert.False(t, temp.LastProducedAt.IsZero())

	power := m.Rule("power")
	require.NotNil(t, power)
	assert.Equal(t, uint64(2), power.Failed)
	assert.Equal(t, "division", power.LastError)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pointsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.payloadsTotal.WithLabelValues(ResultOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomesTotal.WithLabelValues("humidity", string(StatusNotFound))))
}

func TestMetricsWriteErrorDoesNotCountPoints(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	r := sampleReport()
	r.Dispatched = false
	m.RecordReport(r, ResultWriteError)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.pointsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payloadsTotal.WithLabelValues(ResultWriteError)))
}

func TestMetricsRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	other := NewMetrics(reg)
	require.NoError(t, other.Register(), "already registered collectors are tolerated")
}

func TestMetricsSnapshotIsCopy(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordReport(sampleReport(), ResultOK)

	snap := m.Snapshot()
	require.Contains(t, snap.Rules, "temperature")
	snap.Rules["temperature"].Produced = 99

	assert.Equal(t, uint64(1), m.Rule("temperature").Produced)
	assert.Nil(t, m.Rule("missing"))
}

func TestMetricsHaltedPoisonedAndReset(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetHalted()
	m.RecordPoisoned()
	m.ObserveDispatch(10 * time.Millisecond)
	m.RecordReport(sampleReport(), ResultHalted)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.halted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poisonedTotal))

	m.Reset()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.halted))
	assert.Empty(t, m.Snapshot().Rules)
}
