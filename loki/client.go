package loki

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goware/urlx"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	loghttp "github.com/motemen/go-loghttp"
	log "github.com/sirupsen/logrus"
)

// How much of an error response body we keep for the error message
const maxErrorBody = 512

// A StatusError is returned when the endpoint answers with a non-2xx status
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad response from Loki: %d %s", e.Code, e.Body)
}

// A Client pushes requests to a single Loki endpoint. It wraps one pooled
// http.Client and is safe for concurrent use.
type Client struct {
	URL      string
	TenantID string
	Gzip     bool
	Timeout  time.Duration

	client *http.Client
}

// ParseHost cleans up a host specification into the full push URL. A
// missing scheme defaults to http.
func ParseHost(host string) (*url.URL, error) {
	if host == "" {
		return nil, errors.New("no host specified")
	}

	u, err := urlx.ParseWithDefaultScheme(host, "http")
	if err != nil {
		return nil, fmt.Errorf("unable to parse host '%s': %w", host, err)
	}

	u.Path = PushPath
	u.RawQuery = ""
	return u, nil
}

// NewClient returns a Client for the host with a per-request timeout
func NewClient(host string, timeout time.Duration) (*Client, error) {
	u, err := ParseHost(host)
	if err != nil {
		return nil, err
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout

	return &Client{
		URL:     u.String(),
		Timeout: timeout,
		client:  client,
	}, nil
}

// LogTraffic wraps the transport so every request and response is logged at
// debug level.
func (c *Client) LogTraffic() {
	c.client.Transport = &loghttp.Transport{
		LogRequest: func(req *http.Request) {
			log.Debugf("--> %s %s", req.Method, req.URL)
		},
		LogResponse: func(resp *http.Response) {
			log.Debugf("<-- %d %s", resp.StatusCode, resp.Request.URL)
		},
		Transport: c.client.Transport,
	}
}

// Push sends one request and waits for the response. Any 2xx is success;
// the response body is drained but not parsed.
func (c *Client) Push(ctx context.Context, pr *PushRequest) error {
	data, err := pr.Encode(c.Gzip)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("unable to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if c.TenantID != "" {
		req.Header.Set("X-Scope-OrgID", c.TenantID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed pushing to %s: %w", c.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	// Drain so the connection goes back to the pool
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
