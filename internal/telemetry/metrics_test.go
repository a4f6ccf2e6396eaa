package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetMetricsSingleton(t *testing.T) {
	m := GetMetrics()
	require.NotNil(t, m)
	require.Same(t, m, GetMetrics())

	require.NotNil(t, m.RequestsTotal)
	require.NotNil(t, m.RequestAttemptTotal)
	require.NotNil(t, m.TokenRefreshTotal)
}
