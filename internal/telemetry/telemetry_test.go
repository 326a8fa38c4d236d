package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSampleFillsEveryMetric(t *testing.T) {
	ts := time.Unix(100, 0)
	s := NewSample(ts, map[string]any{
		"elev_mm":   12.5,
		"vbatt_mV":  "7400",
		"lineL_adc": true,
		"unknown":   1.0,
	})

	require.Len(t, s.Metrics, len(Metrics))
	for _, m := range Metrics {
		_, present := s.Metrics[m.Key]
		assert.True(t, present, "key %s must be present", m.Key)
	}

	v, ok := s.Value("elev_mm")
	assert.True(t, ok)
	assert.Equal(t, 12.5, v)
	v, ok = s.Value("vbatt_mV")
	assert.True(t, ok)
	assert.Equal(t, 7400.0, v)
	_, ok = s.Value("lineL_adc")
	assert.False(t, ok)
	assert.Nil(t, s.Metrics["grip_pos_deg"])
	assert.NotContains(t, s.Metrics, "unknown")
}

func TestRingBoundAndOrder(t *testing.T) {
	r := NewRing(DefaultCapacity)
	base := time.Unix(0, 0)

	for i := range 300 {
		r.Push(Sample{Timestamp: base.Add(time.Duration(i) * time.Second)})
		require.LessOrEqual(t, r.Len(), DefaultCapacity)
	}

	snap := r.Snapshot()
	require.Len(t, snap, DefaultCapacity)
	for i, s := range snap {
		want := base.Add(time.Duration(300-DefaultCapacity+i) * time.Second)
		assert.Equal(t, want, s.Timestamp)
	}

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, base.Add(299*time.Second), latest.Timestamp)
}

func TestRingPartialAndReset(t *testing.T) {
	r := NewRing(4)
	_, ok := r.Latest()
	assert.False(t, ok)

	r.Push(Sample{Timestamp: time.Unix(1, 0)})
	r.Push(Sample{Timestamp: time.Unix(2, 0)})
	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, time.Unix(1, 0), snap[0].Timestamp)

	r.Reset()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, 4, r.Cap())
}

func TestMessageDecoding(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"command":"STATUS","raw":["OK"],"data":{"elev_mm":3}}`), &m))
	assert.Equal(t, "STATUS", m.Command)
	assert.Equal(t, 3.0, m.Data["elev_mm"])
	assert.Empty(t, m.Error)

	var c CameraMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"error","message":"no camera"}`), &c))
	assert.Equal(t, CameraError, c.Type)
	assert.Equal(t, "no camera", c.Message)
}
