// Package clients implements the upstream HTTP clients for sources T
// (Teamwork-shaped task API), M (Missive-shaped shared inbox API), and C
// (a generic document service). BaseClient carries the shared plumbing:
// a tuned *http.Client, an SSRF-aware base-URL guard, exponential
// backoff with deterministic jitter, and a token-bucket rate limiter
// (golang.org/x/time/rate) enforcing the per-client request ceiling.
package clients

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Jorineg/TeamworkMissiveConnector/internal/support/backoff"
	cerrors "github.com/Jorineg/TeamworkMissiveConnector/internal/support/errors"
)

const (
	maxErrorBodyBytes = 4 << 10
	defaultPerRequest = 30 * time.Second
	defaultTotalCall  = 5 * time.Minute
	maxRetries        = 5
)

// RetryPolicy is the backoff shape for transient upstream failures:
// base 1s, cap 60s, jitter.
var RetryPolicy = backoff.Policy{Base: time.Second, Cap: 60 * time.Second, JitterPct: 20}

// Options configures a BaseClient.
type Options struct {
	BaseURL            string
	PerRequestTimeout  time.Duration
	TotalCallTimeout   time.Duration
	RateLimitPerSecond float64 // token bucket refill rate; default conservative (5 rps)
	RateLimitBurst     int
	AllowPrivateHosts  bool // test-only escape hatch; never set from config
}

// BaseClient is the shared HTTP plumbing for all three upstream clients.
type BaseClient struct {
	httpClient *http.Client
	baseURL    *url.URL
	limiter    *rate.Limiter
	perReq     time.Duration
	totalCall  time.Duration
}

func NewBaseClient(opts Options) (*BaseClient, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("clients: base_url required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("clients: invalid base_url %q", base)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("clients: non-http scheme denied: %q", u.Scheme)
	}
	if !opts.AllowPrivateHosts && isPrivateHost(u.Hostname()) {
		return nil, fmt.Errorf("clients: private/loopback base_url denied: %q", u.Hostname())
	}

	perReq := opts.PerRequestTimeout
	if perReq <= 0 {
		perReq = defaultPerRequest
	}
	totalCall := opts.TotalCallTimeout
	if totalCall <= 0 {
		totalCall = defaultTotalCall
	}
	rps := opts.RateLimitPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &BaseClient{
		httpClient: &http.Client{Transport: transport},
		baseURL:    u,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		perReq:     perReq,
		totalCall:  totalCall,
	}, nil
}

// doRequest performs method+path with retries on transient failures.
// headers may be nil. Non-2xx responses are classified via
// classifyStatus.
func (c *BaseClient) doRequest(ctx context.Context, method, path string, query url.Values, headers http.Header, body []byte) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.totalCall)
	defer cancel()

	full := *c.baseURL
	full.Path = joinPath(full.Path, path)
	if len(query) > 0 {
		full.RawQuery = query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, cerrors.Transient(fmt.Errorf("rate limiter: %w", err))
		}

		reqCtx, reqCancel := context.WithTimeout(ctx, c.perReq)
		req, err := http.NewRequestWithContext(reqCtx, method, full.String(), bytesReader(body))
		if err != nil {
			reqCancel()
			return nil, 0, fmt.Errorf("clients: build request: %w", err)
		}
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			reqCancel()
			lastErr = err
			if ctx.Err() != nil {
				return nil, 0, cerrors.Transient(fmt.Errorf("request failed: %w", err))
			}
			sleep(ctx, RetryPolicy.Delay(attempt, method, path))
			continue
		}

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		_ = resp.Body.Close()
		reqCancel()
		if readErr != nil {
			lastErr = readErr
			sleep(ctx, RetryPolicy.Delay(attempt, method, path))
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(data, maxErrorBodyBytes))
			delay := retryAfterDelay(resp.Header)
			if delay <= 0 {
				delay = RetryPolicy.Delay(attempt, method, path)
			}
			sleep(ctx, delay)
			continue
		}

		if resp.StatusCode >= 400 {
			return data, resp.StatusCode, classifyStatus(resp.StatusCode, data)
		}

		return data, resp.StatusCode, nil
	}
	return nil, 0, cerrors.Transient(fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr))
}

// classifyStatus maps a final non-2xx, non-retried-away status to the
// error taxonomy: 404 is Gone, other 4xx are Permanent.
func classifyStatus(status int, body []byte) error {
	msg := fmt.Errorf("status=%d body=%s", status, truncate(body, maxErrorBodyBytes))
	if status == http.StatusNotFound {
		return cerrors.Gone(msg)
	}
	return cerrors.Permanent(msg)
}

func retryAfterDelay(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func truncate(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[:max]
	}
	return s
}

func bytesReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return &byteSliceReader{b: b}
}

type byteSliceReader struct {
	b []byte
	i int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

func joinPath(base, rel string) string {
	base = strings.TrimRight(base, "/")
	rel = strings.TrimLeft(rel, "/")
	if rel == "" {
		return base
	}
	return base + "/" + rel
}

// isPrivateHost/isPrivateIP guard the tenant-configurable base URL from
// being pointed at loopback or RFC 1918 space.
func isPrivateHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "localhost" || h == "localhost.localdomain" {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return isPrivateIP(ip)
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 10:
			return true
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
			return true
		case ip4[0] == 192 && ip4[1] == 168:
			return true
		case ip4[0] == 127:
			return true
		case ip4[0] == 169 && ip4[1] == 254:
			return true
		default:
			return false
		}
	}
	if len(ip) == net.IPv6len {
		if ip[0]&0xfe == 0xfc {
			return true
		}
		if ip.IsLoopback() {
			return true
		}
	}
	return false
}
