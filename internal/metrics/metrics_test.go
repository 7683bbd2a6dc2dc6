package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.EventApplied("commit")
	c.NullifierCheck(SourceLocal)
	c.ProofFetch(time.Second)
	c.BlockHeight(3)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, c.InstrumentHandler("getinfo", h))
}

func TestCountersAndExposition(t *testing.T) {
	c := NewCollector()
	c.EventApplied("commit")
	c.EventApplied("commit")
	c.EventApplied("memos")
	c.NullifierCheck(SourceRemote)
	c.BlockHeight(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsApplied.WithLabelValues("commit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nullifierChecks.WithLabelValues(SourceRemote)))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.blockHeight))

	h := c.InstrumentHandler("getinfo", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/getinfo", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("getinfo", "get", "418")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "zerosync_block_height 7")
}
