// Package probe issues live HTTP requests for content discovery and
// response-code checks. Probing is rate limited and fanned out with
// bounded parallelism; a timeout or connection failure is never an alert.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/internal/httpclient"
	"github.com/edgewatch/edgewatch/internal/logger"
)

// Hit is one probed URL whose status matched the requested code set.
type Hit struct {
	URL    string
	Status int
}

type Prober struct {
	client      *http.Client
	limiter     *rate.Limiter
	sink        core.DeltaSink
	logger      *logger.Logger
	userAgent   string
	concurrency int
}

func NewProber(cfg config.ProbeConfig, sink core.DeltaSink, log *logger.Logger) *Prober {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Prober{
		client:      httpclient.New(cfg),
		limiter:     rate.NewLimiter(rate.Limit(rps), rps),
		sink:        sink,
		logger:      log.WithComponent("probe"),
		userAgent:   cfg.UserAgent,
		concurrency: concurrency,
	}
}

// ExpandCodes turns a mixed list of exact status codes and "Nxx" range
// shorthands into a membership set. "4xx" covers 400 through 499.
func ExpandCodes(specs []string) (map[int]bool, error) {
	set := make(map[int]bool)
	for _, spec := range specs {
		spec = strings.TrimSpace(strings.ToLower(spec))
		if spec == "" {
			continue
		}
		if strings.HasSuffix(spec, "xx") && len(spec) == 3 {
			n := int(spec[0] - '0')
			if n < 1 || n > 5 {
				return nil, fmt.Errorf("invalid status range %q", spec)
			}
			for c := n * 100; c < (n+1)*100; c++ {
				set[c] = true
			}
			continue
		}
		code, err := strconv.Atoi(spec)
		if err != nil || code < 100 || code > 599 {
			return nil, fmt.Errorf("invalid status code %q", spec)
		}
		set[code] = true
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("empty status code set")
	}
	return set, nil
}

// BuildWordlistURLs combines a base URL with each word. Words are joined
// with a single slash regardless of trailing/leading separators.
func BuildWordlistURLs(base string, words []string) []string {
	base = strings.TrimRight(base, "/")
	urls := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || strings.HasPrefix(w, "#") {
			continue
		}
		urls = append(urls, base+"/"+strings.TrimLeft(w, "/"))
	}
	return urls
}

// Run probes every URL and emits a "content discovered" delta for each
// status match. Request failures are logged and skipped; the batch always
// runs to completion unless the context is cancelled or a delta cannot be
// written.
func (p *Prober) Run(ctx context.Context, urls []string, codes map[int]bool, jobContext string) ([]Hit, error) {
	var (
		mu   sync.Mutex
		hits []Hit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	start := time.Now()
	for _, url := range urls {
		url := url
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				return err
			}
			status, ok := p.fetch(gctx, url)
			if !ok || !codes[status] {
				return nil
			}

			event := core.Event{
				"event":  "content discovered",
				"url":    url,
				"status": status,
				"job":    jobContext,
			}
			if err := p.sink.Emit(gctx, event); err != nil {
				return fmt.Errorf("delta emission failed for %s: %w", url, err)
			}
			mu.Lock()
			hits = append(hits, Hit{URL: url, Status: status})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return hits, err
	}

	p.logger.LogDuration(ctx, "probe_run", start,
		"urls", len(urls), "hits", len(hits), "job", jobContext)
	return hits, nil
}

// fetch performs one GET. Any transport failure is "no result".
func (p *Prober) fetch(ctx context.Context, url string) (int, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Debugw("request build failed, skipping", "url", url, "error", err)
		return 0, false
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debugw("probe failed, skipping", "url", url, "error", err)
		return 0, false
	}
	resp.Body.Close()
	return resp.StatusCode, true
}
