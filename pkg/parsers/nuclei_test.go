package parsers

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/storetest"
	"github.com/edgewatch/edgewatch/pkg/types"
)

func TestHostPortFromURI(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		host string
		port string
		ok   bool
	}{
		{"domain with explicit port", "https://www.example.com:8443/admin", "www.example.com", "8443", true},
		{"ip with explicit port", "10.0.0.5:8080", "10.0.0.5", "8080", true},
		{"https default port", "https://www.example.com/login", "www.example.com", "443", true},
		{"http default port", "http://www.example.com", "www.example.com", "80", true},
		{"bare ip", "192.168.1.10", "192.168.1.10", "", true},
		{"bare domain", "example.com", "example.com", "", true},
		{"empty", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, ok := HostPortFromURI(tt.uri)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestParseProbeLine(t *testing.T) {
	line := "[2026-08-30 22:10:11] [exposed-panel] [http] [high] https://admin.example.com:8443/console"
	pl, ok := ParseProbeLine(line)
	require.True(t, ok)
	assert.Equal(t, "exposed-panel", pl.Vulnerability)
	assert.Equal(t, "http", pl.Engine)
	assert.Equal(t, types.SeverityHigh, pl.Severity)
	assert.Equal(t, "admin.example.com", pl.Host)
	assert.Equal(t, "8443", pl.Port)
	assert.Equal(t, "https://admin.example.com:8443/console", pl.URI)

	_, ok = ParseProbeLine("no leading bracket here")
	assert.False(t, ok)

	_, ok = ParseProbeLine("[only-brackets] [no-uri]")
	assert.False(t, ok)
}

func TestNucleiParserFirstTouchClearsThenAppends(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	ctx := context.Background()
	opts := Options{Tag: "web", Scope: types.ScopeExternal}

	_, _, err := store.UpsertHost(ctx, &types.HostRecord{
		Name: "www.example.com", Scope: types.ScopeExternal,
		NucleiOut: "[old-finding] [http] [low] https://www.example.com/old",
	})
	require.NoError(t, err)

	input := "[cve-2026-0001] [http] [critical] https://www.example.com/a\n" +
		"[exposed-panel] [http] [high] https://www.example.com/b\n"
	parser := NewNucleiParser(newDeps(store, sink))
	stats, err := parser.Parse(ctx, strings.NewReader(input), opts)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Deltas)

	host, err := store.FindHost(ctx, types.ScopeExternal, "www.example.com")
	require.NoError(t, err)
	// First line of the run replaced the stored blob, second appended.
	assert.Equal(t,
		"[cve-2026-0001] [http] [critical] https://www.example.com/a\n"+
			"[exposed-panel] [http] [high] https://www.example.com/b",
		host.NucleiOut)
	assert.NotContains(t, host.NucleiOut, "old-finding")
}

func TestNucleiParserDedupsAgainstPreRunSnapshot(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	ctx := context.Background()
	opts := Options{Tag: "web", Scope: types.ScopeExternal}

	known := "[cve-2026-0001] [http] [critical] https://www.example.com/a"
	_, _, err := store.UpsertHost(ctx, &types.HostRecord{
		Name: "www.example.com", Scope: types.ScopeExternal, NucleiOut: known,
	})
	require.NoError(t, err)

	input := known + "\n[exposed-panel] [http] [high] https://www.example.com/b\n"
	parser := NewNucleiParser(newDeps(store, sink))
	stats, err := parser.Parse(ctx, strings.NewReader(input), opts)
	require.NoError(t, err)

	// Only the line absent from the pre-run content alerts.
	assert.Equal(t, 1, stats.Deltas)
	events := sink.Named("new vulnerability found")
	require.Len(t, events, 1)
	assert.Equal(t, "exposed-panel", events[0]["vulnerability"])
}

func TestNucleiParserCreatesUnknownHost(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	parser := NewNucleiParser(newDeps(store, sink))

	input := "[default-login] [http] [medium] http://10.0.0.7/manager\n"
	stats, err := parser.Parse(context.Background(), strings.NewReader(input),
		Options{Tag: "internal-web", Scope: types.ScopeInternal})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deltas)

	host, err := store.FindHost(context.Background(), types.ScopeInternal, "10.0.0.7")
	require.NoError(t, err)
	require.NotNil(t, host)
	assert.Equal(t, "internal-web", host.Tag)
	assert.Equal(t, "80", sink.Named("new vulnerability found")[0]["port"])
}
