package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/internal/storetest"
)

func testProbeConfig() config.ProbeConfig {
	return config.ProbeConfig{
		Timeout:           2 * time.Second,
		RequestsPerSecond: 100,
		Concurrency:       5,
		UserAgent:         "edgewatch-test",
		AllowPrivateIPs:   true, // httptest binds to loopback
	}
}

func TestExpandCodes(t *testing.T) {
	tests := []struct {
		name    string
		specs   []string
		include []int
		exclude []int
		wantErr bool
	}{
		{
			name:    "exact codes",
			specs:   []string{"200", "301"},
			include: []int{200, 301},
			exclude: []int{302, 404},
		},
		{
			name:    "range shorthand",
			specs:   []string{"4xx"},
			include: []int{400, 404, 499},
			exclude: []int{399, 500},
		},
		{
			name:    "mixed",
			specs:   []string{"200", "5xx"},
			include: []int{200, 500, 503, 599},
			exclude: []int{404},
		},
		{name: "invalid range", specs: []string{"9xx"}, wantErr: true},
		{name: "not a code", specs: []string{"teapot"}, wantErr: true},
		{name: "empty", specs: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := ExpandCodes(tt.specs)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, c := range tt.include {
				assert.True(t, set[c], "expected %d in set", c)
			}
			for _, c := range tt.exclude {
				assert.False(t, set[c], "expected %d not in set", c)
			}
		})
	}
}

func TestBuildWordlistURLs(t *testing.T) {
	urls := BuildWordlistURLs("https://example.com/", []string{"admin", "/backup", "", "# comment"})
	assert.Equal(t, []string{
		"https://example.com/admin",
		"https://example.com/backup",
	}, urls)
}

func TestRunAlertsOnMatchingStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin":
			w.WriteHeader(http.StatusOK)
		case "/backup":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sink := storetest.NewSink()
	prober := NewProber(testProbeConfig(), sink, logger.NewNop())

	codes, err := ExpandCodes([]string{"200", "403"})
	require.NoError(t, err)

	urls := BuildWordlistURLs(srv.URL, []string{"admin", "backup", "missing"})
	hits, err := prober.Run(context.Background(), urls, codes, "content-job")
	require.NoError(t, err)

	require.Len(t, hits, 2)
	events := sink.Named("content discovered")
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "content-job", e["job"])
	}
}

func TestRunTreatsConnectionFailureAsNoAlert(t *testing.T) {
	sink := storetest.NewSink()
	prober := NewProber(testProbeConfig(), sink, logger.NewNop())

	codes, err := ExpandCodes([]string{"2xx"})
	require.NoError(t, err)

	// Nothing listens here; the run must complete without error.
	hits, err := prober.Run(context.Background(),
		[]string{"http://127.0.0.1:1/nope"}, codes, "job")
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, sink.Events)
}
