package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandlerExposesOperatorMetrics(t *testing.T) {
	RecordRequest("prove", 200)
	RecordRequest("verify", 1004)
	ObserveToolDuration("prove", 250*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `zkml_requests_total{operation="prove",code="200"} 1`)
	require.Contains(t, body, `zkml_requests_total{operation="verify",code="1004"} 1`)
	require.Contains(t, body, `zkml_tool_duration_seconds_count{subcommand="prove"} 1`)
}
