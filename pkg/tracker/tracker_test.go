package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/pkg/types"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	assert.Nil(t, New(config.TrackerConfig{Enabled: false}, logger.NewNop()))
	assert.Nil(t, New(config.TrackerConfig{Enabled: true, Endpoint: ""}, logger.NewNop()))
}

func TestOpenTicketPostsFinding(t *testing.T) {
	var got ticketRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(config.TrackerConfig{Enabled: true, Endpoint: srv.URL, Token: "secret"}, logger.NewNop())
	require.NotNil(t, c)

	f := &types.VulnFinding{
		Name: "www.example.com", Vulnerability: "CVE-2026-1234",
		Level: types.SeverityHigh, Scope: types.ScopeExternal,
		FullURI: "https://www.example.com/login",
	}
	require.NoError(t, c.OpenTicket(context.Background(), f))

	assert.Equal(t, "open", got.Action)
	assert.Equal(t, "CVE-2026-1234", got.Vulnerability)
	assert.Equal(t, "Bearer secret", auth)
}

func TestCloseTicketSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(config.TrackerConfig{Enabled: true, Endpoint: srv.URL}, logger.NewNop())
	err := c.CloseTicket(context.Background(), &types.VulnFinding{Name: "a", Vulnerability: "v"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}
