package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordImport(t *testing.T) {
	beforeOK := testutil.ToFloat64(ImportsTotal.WithLabelValues("success"))
	beforeImported := testutil.ToFloat64(ProgramsProcessed.WithLabelValues("imported"))
	beforeSkipped := testutil.ToFloat64(ProgramsProcessed.WithLabelValues("skipped"))

	RecordImport("success", 2*time.Second, 10, 3)

	assert.Equal(t, beforeOK+1, testutil.ToFloat64(ImportsTotal.WithLabelValues("success")))
	assert.Equal(t, beforeImported+10, testutil.ToFloat64(ProgramsProcessed.WithLabelValues("imported")))
	assert.Equal(t, beforeSkipped+3, testutil.ToFloat64(ProgramsProcessed.WithLabelValues("skipped")))
}

func TestRecordHTTPRequest(t *testing.T) {
	c := HTTPRequestsTotal.WithLabelValues("GET", "/api/channels", "200")
	before := testutil.ToFloat64(c)
	RecordHTTPRequest("GET", "/api/channels", 200, 5*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
