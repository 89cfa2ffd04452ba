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

func TestDomainParserFirstSight(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	parser := NewDomainParser(newDeps(store, sink))

	input := "[Sublist3r] api.example.com found via crt.sh\n" +
		"[Amass][DNSDumpster] vpn.example.com\n" +
		"garbage without brackets\n"

	stats, err := parser.Parse(context.Background(), strings.NewReader(input),
		Options{Tag: "recon", Scope: types.ScopeExternal})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 1, stats.Skipped)

	events := sink.Named("new domain found")
	require.Len(t, events, 2)
	assert.Equal(t, "api.example.com", events[0]["name"])
	assert.Equal(t, "DOMAIN", events[0]["type"])
	assert.Equal(t, "found via crt.sh", events[0]["info"])
	// Resolved metadata rides on the event.
	assert.Equal(t, "Unknown", events[0]["owner"])

	d, err := store.FindDiscovery(context.Background(), "vpn.example.com")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "[Amass][DNSDumpster]", d.Tag)
}

func TestDomainParserResightUpdatesInPlace(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	deps := newDeps(store, sink)
	opts := Options{Tag: "recon", Scope: types.ScopeExternal}

	_, err := NewDomainParser(deps).Parse(context.Background(),
		strings.NewReader("[Sublist3r] api.example.com first sighting\n"), opts)
	require.NoError(t, err)

	stats, err := NewDomainParser(deps).Parse(context.Background(),
		strings.NewReader("[Amass] api.example.com seen again\n"), opts)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 1, stats.Updated)
	// One creation delta total, no duplicate rows.
	assert.Len(t, sink.Events, 1)
	assert.Len(t, store.Discoveries, 1)

	d, err := store.FindDiscovery(context.Background(), "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "[Sublist3r][Amass]", d.Tag)
	assert.Equal(t, "seen again", d.Info)
}

func TestDomainParserIdempotentReingestion(t *testing.T) {
	store := storetest.New()
	sink := storetest.NewSink()
	deps := newDeps(store, sink)
	opts := Options{Tag: "recon", Scope: types.ScopeExternal}
	input := "[Sublist3r] a.example.com\n[Sublist3r] b.example.com\n"

	_, err := NewDomainParser(deps).Parse(context.Background(), strings.NewReader(input), opts)
	require.NoError(t, err)
	first := len(sink.Events)

	_, err = NewDomainParser(deps).Parse(context.Background(), strings.NewReader(input), opts)
	require.NoError(t, err)

	assert.Equal(t, first, len(sink.Events))
	assert.Len(t, store.Discoveries, 2)
}

func TestMergeSourceTags(t *testing.T) {
	tests := []struct {
		existing string
		incoming string
		want     string
	}{
		{"[A]", "[B]", "[A][B]"},
		{"[A][B]", "[B]", "[A][B]"},
		{"", "[A][B]", "[A][B]"},
		{"[A]", "[A]", "[A]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mergeSourceTags(tt.existing, tt.incoming))
	}
}
