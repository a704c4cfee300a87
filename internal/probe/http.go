package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"controlroom/internal/models"
)

// HTTPChecker issues a GET and classifies the status code.
type HTTPChecker struct {
	client *http.Client
}

// NewHTTPChecker builds a checker. A nil client gets a pooled transport;
// deadlines come from the probe context.
func NewHTTPChecker(client *http.Client) *HTTPChecker {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &HTTPChecker{client: client}
}

func defaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// Check implements Checker. Any answer in [200,400) is ok; other statuses
// mean the server answered but is unhealthy.
func (c *HTTPChecker) Check(ctx context.Context, p models.Probe) Observation {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Target, nil)
	if err != nil {
		return failed(err)
	}
	req.Header.Set("User-Agent", "controlroom-probe")

	resp, err := c.client.Do(req)
	if err != nil {
		return failed(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return ok(resp.StatusCode)
	}
	return Observation{
		Outcome: models.OutcomeDegraded,
		Value:   resp.StatusCode,
		Err:     fmt.Errorf("http %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
