package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, HTTPRequests)
	assert.NotNil(t, FunctionalityInsertions)
	assert.NotNil(t, ScopeChanges)
	assert.NotNil(t, PatternQueryDuration)
	assert.NotNil(t, SQLitePoolOpenConnections)
}

func TestScopeChangesCounter(t *testing.T) {
	before := testutil.ToFloat64(ScopeChanges.WithLabelValues("update", "success"))

	ScopeChanges.WithLabelValues("update", "success").Inc()

	assert.Equal(t, before+1, testutil.ToFloat64(ScopeChanges.WithLabelValues("update", "success")))
}
