// Package parsers converts raw scanner output into typed records and
// routes the resulting state changes through the reconciliation store and
// delta sink. One parser per wire format, selected through a registered
// handler map rather than ad hoc string dispatch.
package parsers

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/pkg/registry"
	"github.com/edgewatch/edgewatch/pkg/types"
)

// Deps carries the collaborators every parser needs. Passed explicitly,
// never ambient.
type Deps struct {
	Store    core.RecordStore
	Resolver *registry.Resolver
	Sink     core.DeltaSink
	Logger   *logger.Logger
}

// Options is the per-invocation ingestion context.
type Options struct {
	Tag     string
	Scope   types.Scope
	Verbose bool
}

// Stats summarizes one parser run.
type Stats struct {
	Lines   int
	Created int
	Updated int
	Skipped int
	Deltas  int
}

// Parser consumes one raw scanner document.
type Parser interface {
	Name() string
	Parse(ctx context.Context, r io.Reader, opts Options) (Stats, error)
}

// Registry maps format names to parser constructors.
type Registry struct {
	factories map[string]func(Deps) Parser
}

// NewRegistry returns a registry with every built-in format registered.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]func(Deps) Parser{}}

	r.Register("domains", func(d Deps) Parser { return NewDomainParser(d) })
	r.Register("hosts", func(d Deps) Parser { return NewHostParser(d) })
	r.Register("nuclei", func(d Deps) Parser { return NewNucleiParser(d) })
	for _, proto := range BruteProtocols {
		proto := proto
		r.Register("brute-"+proto, func(d Deps) Parser { return NewBruteParser(d, proto) })
	}

	return r
}

func (r *Registry) Register(name string, factory func(Deps) Parser) {
	r.factories[name] = factory
}

// Get builds the parser registered under name. Unknown names are a
// caller-facing configuration error.
func (r *Registry) Get(name string, deps Deps) (Parser, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("no parser registered for format %q (known: %v)", name, r.Names())
	}
	return factory(deps), nil
}

// Names lists the registered formats, sorted for stable error output.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
