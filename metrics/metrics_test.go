package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	p0, f0, e0, _, _ := GetStats()
	before := testutil.ToFloat64(ErrorsTotal.WithLabelValues("transient"))

	IncrementProcessed()
	IncrementFound()
	IncrementErrors("transient")

	p1, f1, e1, last, uptime := GetStats()
	assert.Equal(t, p0+1, p1)
	assert.Equal(t, f0+1, f1)
	assert.Equal(t, e0+1, e1)
	assert.WithinDuration(t, time.Now(), last, time.Second)
	assert.Positive(t, uptime)
	assert.Equal(t, before+1, testutil.ToFloat64(ErrorsTotal.WithLabelValues("transient")))
}

func TestRecordRequestDuration(t *testing.T) {
	RecordRequestDuration("trades", 30*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(RequestDuration))
}
