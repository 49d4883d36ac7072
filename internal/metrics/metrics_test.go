package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(EventsCaptured.WithLabelValues("click"))
	EventsCaptured.WithLabelValues("click").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(EventsCaptured.WithLabelValues("click")))

	Recording.Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(Recording))
	Recording.Set(0)
}
