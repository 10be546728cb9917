package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
)

// Client fetches manifest documents over HTTPS, retrying transient failures
// and deduplicating concurrent fetches of the same URL.
type Client struct {
	http  *retryablehttp.Client
	group singleflight.Group
}

// NewClient returns a Client with the retryablehttp defaults, logging
// suppressed (the facilitator's own glog logging wraps fetch failures
// instead of retryablehttp's own logger).
func NewClient() *Client {
	http := retryablehttp.NewClient()
	http.Logger = nil
	return &Client{http: http}
}

func (c *Client) fetch(ctx context.Context, url string, out interface{}) error {
	v, err, _ := c.group.Do(url, func() (interface{}, error) {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: new request for %s: %v", errs.ErrTransport, url, err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch %s: %v", errs.ErrTransport, url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: fetch %s: status %d", errs.ErrTransport, url, resp.StatusCode)
		}
		var raw json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: decode manifest from %s: %v", errs.ErrCodec, url, err)
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.(json.RawMessage), out)
}

// FetchDataShareProcessorSpecificManifest fetches and decodes the specific
// manifest published at url.
func (c *Client) FetchDataShareProcessorSpecificManifest(ctx context.Context, url string) (DataShareProcessorSpecificManifest, error) {
	var m DataShareProcessorSpecificManifest
	err := c.fetch(ctx, url, &m)
	return m, err
}

// FetchIngestorGlobalManifest fetches and decodes the ingestor's global
// manifest published at url.
func (c *Client) FetchIngestorGlobalManifest(ctx context.Context, url string) (IngestorGlobalManifest, error) {
	var m IngestorGlobalManifest
	err := c.fetch(ctx, url, &m)
	return m, err
}

// FetchPortalServerGlobalManifest fetches and decodes the portal server's
// global manifest published at url.
func (c *Client) FetchPortalServerGlobalManifest(ctx context.Context, url string) (PortalServerGlobalManifest, error) {
	var m PortalServerGlobalManifest
	err := c.fetch(ctx, url, &m)
	return m, err
}
