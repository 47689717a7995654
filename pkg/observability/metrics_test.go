package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics("test")

	m.CallStarted()
	m.CallStarted()
	m.CallEnded()
	m.Transcript(OutcomeBlocked)
	m.FrameDropped("no_stream_sid")
	m.ObserveRetrieval(120*time.Millisecond, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transcripts.WithLabelValues(OutcomeBlocked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedFrames.WithLabelValues("no_stream_sid")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CallStarted()
	m.Transcript(OutcomeEmpty)
	m.FrameSent()
	m.ObserveRetrieval(time.Second, 0)
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration
	a := NewMetrics("dup")
	b := NewMetrics("dup")
	a.FrameSent()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dup_outbound_frames_total 0")
}
