package service

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthzHandle(t *testing.T) {
	tests := []struct {
		name  string
		runID string
		want  string
	}{
		{name: "before a run", want: "OK"},
		{name: "during a run", runID: "abc", want: "OK abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &HealthzServer{}
			if tt.runID != "" {
				h.SetRunID(tt.runID)
			}
			rec := httptest.NewRecorder()
			h.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestNewDefaults(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, "0.0.0.0:8080", s.cfg.HealthzAddr)
	assert.Equal(t, "0.0.0.0:7300", s.cfg.MetricsAddr)

	s = New(Config{MetricsAddr: "127.0.0.1:9999"})
	assert.Equal(t, "127.0.0.1:9999", s.cfg.MetricsAddr)
}

func TestShutdownBeforeStart(t *testing.T) {
	s := New(Config{DisableHealthz: true, DisableMetrics: true})
	assert.NotPanics(t, s.Shutdown)
}
