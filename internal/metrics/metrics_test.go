package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.RefreshCompleted(nil)
	r.RefreshCompleted(nil)
	r.RefreshCompleted(errors.New("rejected"))
	r.RequestQueued()
	r.RequestRetried()
	r.RequestRetried()
	r.SessionEnded("logout")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.refreshes.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.refreshes.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.queued))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessionsEnded.WithLabelValues("logout")))
}

func TestNewRecorder_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)

	_, err = NewRecorder(reg)
	require.Error(t, err)
}
