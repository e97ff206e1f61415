// internal/common/http/client.go
package http

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxResponseBytes caps how much of a vendor response body is read.
const MaxResponseBytes = 4 << 20

// Doer is the subset of *http.Client the provider clients need.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	httpClient *http.Client
}

// NewClient returns a client whose transport timeout backs up the per-call context deadline.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// ReadBody drains and closes resp.Body, reading at most MaxResponseBytes.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// IsSuccess reports whether status is 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}
