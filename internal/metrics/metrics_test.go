package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()

	r.EventCreated("Phishing", false)
	r.EventCreated("Phishing", true)
	r.EventCreated("Phishing", true)
	r.PlaybookStarted(true)
	r.PlaybookStarted(false)
	r.StateExecuted("live", nil, 10*time.Millisecond)
	r.StateExecuted("live", errors.New("boom"), time.Millisecond)
	r.TemplateDegraded()
	r.ResponseDelivered("")
	r.ResponseDelivered("TOKEN_ALREADY_USED")
	r.ScheduledBatchRun(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.eventsCreated.WithLabelValues("Phishing", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.eventsCreated.WithLabelValues("Phishing", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.playbooksStarted.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.playbooksStarted.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stateExecutions.WithLabelValues("live", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.templatesDegraded))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.responseDeliveries.WithLabelValues("OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.responseDeliveries.WithLabelValues("TOKEN_ALREADY_USED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.scheduledRuns.WithLabelValues("success")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.EventCreated("x", false)
		r.PlaybookStarted(true)
		r.StateExecuted("testing", nil, 0)
		r.TemplateDegraded()
		r.ResponseDelivered("")
		r.ScheduledBatchRun(false)
	})
	assert.Nil(t, r.Registry())
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.EventCreated("Phishing", false)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `soarkit_events_created_total{duplicate="false",event_type="Phishing"} 1`)
}
