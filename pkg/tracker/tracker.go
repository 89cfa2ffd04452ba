// Package tracker files tickets with a third-party issue tracker. Calls
// are one-way: a failure is the caller's to log, never retried here.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/pkg/types"
)

type client struct {
	http     *http.Client
	endpoint string
	token    string
	logger   *logger.Logger
}

// New returns the HTTP tracker client, or nil when the tracker is
// disabled. Callers treat a nil tracker as "no ticketing".
func New(cfg config.TrackerConfig, log *logger.Logger) core.Tracker {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		http:     &http.Client{Timeout: timeout},
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		logger:   log.WithComponent("tracker"),
	}
}

type ticketRequest struct {
	Action        string `json:"action"`
	Name          string `json:"name"`
	Vulnerability string `json:"vulnerability"`
	Level         string `json:"level"`
	Scope         string `json:"scope"`
	URI           string `json:"uri"`
	Owner         string `json:"owner"`
}

func (c *client) OpenTicket(ctx context.Context, f *types.VulnFinding) error {
	return c.send(ctx, "open", f)
}

func (c *client) CloseTicket(ctx context.Context, f *types.VulnFinding) error {
	return c.send(ctx, "close", f)
}

func (c *client) send(ctx context.Context, action string, f *types.VulnFinding) error {
	body, err := json.Marshal(ticketRequest{
		Action:        action,
		Name:          f.Name,
		Vulnerability: f.Vulnerability,
		Level:         string(f.Level),
		Scope:         string(f.Scope),
		URI:           f.FullURI,
		Owner:         f.Owner,
	})
	if err != nil {
		return fmt.Errorf("failed to encode ticket request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build ticket request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ticket %s call failed: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("tracker rejected %s for %s/%s: %s", action, f.Name, f.Vulnerability, resp.Status)
	}
	c.logger.Debugw("ticket call succeeded", "action", action,
		"name", f.Name, "vulnerability", f.Vulnerability)
	return nil
}
