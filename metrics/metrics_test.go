package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabled(t *testing.T) {
	meter, err := New(&Config{Enabled: false})
	require.NoError(t, err)

	// 禁用时返回 noop Meter，所有操作都是空操作
	counter, err := meter.Counter("test_total", "test counter")
	require.NoError(t, err)
	counter.Inc(context.Background())

	assert.NoError(t, meter.Shutdown(context.Background()))
}

func TestNewNilConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestCounterAndGauge(t *testing.T) {
	meter, err := New(NewDevDefaultConfig("metrics-test"))
	require.NoError(t, err)
	defer meter.Shutdown(context.Background())

	ctx := context.Background()

	counter, err := meter.Counter("registry_register_total", "register operations")
	require.NoError(t, err)
	counter.Inc(ctx, L("outcome", "success"))
	counter.Add(ctx, 3, L("outcome", "failure"))

	gauge, err := meter.Gauge("registry_instances", "registered instances")
	require.NoError(t, err)
	gauge.Set(ctx, 2)
	gauge.Inc(ctx)
	gauge.Dec(ctx)

	histogram, err := meter.Histogram("backend_call_seconds", "backend call duration", WithUnit("s"))
	require.NoError(t, err)
	histogram.Record(ctx, 0.042, L("operation", "heartbeat"))
}

func TestLabelKey(t *testing.T) {
	assert.Equal(t, "", labelKey(nil))
	assert.Equal(t, "a=1|b=2", labelKey([]Label{L("a", "1"), L("b", "2")}))
}

func TestDiscard(t *testing.T) {
	meter := Discard()
	gauge, err := meter.Gauge("noop", "noop gauge")
	require.NoError(t, err)
	gauge.Inc(context.Background())
}
