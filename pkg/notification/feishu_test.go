package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinpool/pkg/events"
)

func TestFeishuNotifier_NotifyFault(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewFeishuNotifier(srv.URL)
	require.True(t, n.Enabled())

	err := n.NotifyFault(context.Background(), events.FaultReport{
		Source:    events.SourceJobMonitor,
		Workspace: "/data/brain.ws",
		Message:   "job manager unreachable",
		At:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "interactive", body["msg_type"])
	raw, _ := json.Marshal(body["card"])
	assert.Contains(t, string(raw), "job manager unreachable")
	assert.Contains(t, string(raw), "Job Monitor")
	assert.Contains(t, string(raw), "2026-01-02 03:04:05")
}

func TestFeishuNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewFeishuNotifier(srv.URL).NotifyFault(context.Background(), events.FaultReport{Source: events.SourcePool})
	assert.ErrorContains(t, err, "502")
}

func TestFeishuNotifier_Disabled(t *testing.T) {
	t.Setenv("FEISHU_WEBHOOK_URL", "")
	n := NewFeishuNotifier("")
	assert.False(t, n.Enabled())
	assert.NoError(t, n.NotifyFault(context.Background(), events.FaultReport{}))
}
