package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("test", prometheus.NewRegistry())
}

func TestRecordOperation(t *testing.T) {
	c := newTestCollector(t)

	c.RecordOperation("act", true, 2*time.Second)
	c.RecordOperation("act", false, time.Second)
	c.RecordOperation("act", true, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operationsTotal.WithLabelValues("act", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationsTotal.WithLabelValues("act", "failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.operationDuration))
}

func TestRecordReasonerCall(t *testing.T) {
	c := newTestCollector(t)

	c.RecordReasonerCall("act", nil)
	c.RecordReasonerCall("act", errors.New("boom"))
	c.RecordReasonerCall("verify", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.reasonerCalls.WithLabelValues("act", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reasonerCalls.WithLabelValues("act", "error")))
	assert.Equal(t, 3, testutil.CollectAndCount(c.reasonerCalls))
}

func TestRecordCacheLookup(t *testing.T) {
	c := newTestCollector(t)

	c.RecordCacheLookup("action", true)
	c.RecordCacheLookup("action", false)
	c.RecordCacheLookup("action", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("action", ResultHit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("action", ResultMiss)))
}

func TestRecordChunksIgnoresEmpty(t *testing.T) {
	c := newTestCollector(t)

	c.RecordChunks("dom", 0)
	c.RecordChunks("dom", 3)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.chunksPerceived.WithLabelValues("dom")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordOperation("act", true, time.Second)
		c.RecordReasonerCall("act", nil)
		c.RecordCacheLookup("llm", true)
		c.RecordChunks("dom", 1)
		c.RecordRetry("resolve")
	})
}

func TestCollectorsRegisterOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("", reg)
	c.RecordRetry("execute")

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "pagehand_act_retries_total")
}
