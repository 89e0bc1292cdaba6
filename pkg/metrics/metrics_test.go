package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegistered(t *testing.T) {
	PairsScreened.WithLabelValues("accepted").Inc()
	SignalsTotal.WithLabelValues("AAA/BBB", "sell").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["pairs_screened_total"])
	assert.True(t, names["signals_total"])
}

func TestCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(ActionsTotal.WithLabelValues("open", "ok"))
	ActionsTotal.WithLabelValues("open", "ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ActionsTotal.WithLabelValues("open", "ok")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	ZScore.WithLabelValues("AAA/BBB").Set(1.25)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `pair_zscore{pair="AAA/BBB"} 1.25`))
}
