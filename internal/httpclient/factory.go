// Package httpclient builds the outbound HTTP clients used by the probers
// and the issue tracker. The default client refuses to connect to private
// or loopback addresses so a hostile redirect cannot turn an external
// probe into an internal one.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/edgewatch/edgewatch/internal/config"
)

// New returns a client configured from cfg. When AllowPrivateIPs is false
// every dialed address is checked after resolution, which also covers
// DNS-rebinding answers.
func New(cfg config.ProbeConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if !cfg.AllowPrivateIPs {
				if err := checkPublicAddr(conn.RemoteAddr()); err != nil {
					conn.Close()
					return nil, err
				}
			}
			return conn, nil
		},
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

func checkPublicAddr(addr net.Addr) error {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return fmt.Errorf("unparseable remote address %q: %w", addr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("unparseable remote ip %q", host)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("connection to non-public address %s refused", ip)
	}
	return nil
}
