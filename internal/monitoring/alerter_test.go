package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trend-curator/internal/model"
)

func TestAlerter_Evaluate(t *testing.T) {
	a := NewAlerter("")

	tests := []struct {
		name  string
		snap  Snapshot
		types []AlertType
	}{
		{"healthy", Snapshot{ConfigsActive: 3}, nil},
		{"error configs", Snapshot{ConfigsError: 2, ErrorIDs: []string{"x", "y"}}, []AlertType{AlertErrorConfigs}},
		{"overdue", Snapshot{Overdue: 1, OverdueIDs: []string{"z"}}, []AlertType{AlertOverdueSchedules}},
		{"both", Snapshot{ConfigsError: 1, Overdue: 1}, []AlertType{AlertErrorConfigs, AlertOverdueSchedules}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := a.Evaluate(&tt.snap)
			var got []AlertType
			for _, al := range alerts {
				got = append(got, al.Type)
				assert.False(t, al.Timestamp.IsZero())
			}
			assert.Equal(t, tt.types, got)
		})
	}
}

func TestAutoPaused(t *testing.T) {
	alert := AutoPaused(&model.ScanConfig{
		ID: "cfg-1", ProjectID: "p1", UserID: "u1",
		ConsecutiveErrors: 3, LastError: "scrape failed",
	})

	assert.Equal(t, AlertConfigAutoPaused, alert.Type)
	assert.Equal(t, "high", alert.Severity)
	assert.Contains(t, alert.Message, "cfg-1")
	assert.Contains(t, alert.Message, "3 consecutive failures")
	assert.Equal(t, "scrape failed", alert.Details["last_error"])
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(srv.URL)
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertErrorConfigs, Severity: "medium"},
		{Type: AlertOverdueSchedules, Severity: "high"},
	})

	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlertsWebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sent := NewAlerter(srv.URL).SendAlerts(context.Background(), []Alert{{Type: AlertErrorConfigs}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_NoWebhook(t *testing.T) {
	assert.Equal(t, 0, NewAlerter("").SendAlerts(context.Background(), []Alert{{Type: AlertErrorConfigs}}))

	var nilAlerter *Alerter
	assert.Equal(t, 0, nilAlerter.SendAlerts(context.Background(), []Alert{{Type: AlertErrorConfigs}}))
}
