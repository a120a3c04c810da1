package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Ticks.WithLabelValues("n0", "send").Inc()
	m.Clock.WithLabelValues("n0").Set(7)
	m.QueueDepth.WithLabelValues("n0").Set(2)
	m.MessagesSent.WithLabelValues("n0", "client").Add(3)
	m.MessagesReceived.WithLabelValues("n0", "server").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)

	assert.Equal(t, 7.0, testutil.ToFloat64(m.Clock.WithLabelValues("n0")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("n0", "client")))
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
