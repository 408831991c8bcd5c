package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/metric"
)

// ContentTypeJSONLD is negotiated with the discovery service in both directions
const ContentTypeJSONLD = "application/ld+json"

// maxDiscoveryBody caps how much of a discovery response is read
const maxDiscoveryBody = 64 << 20

// DiscoveryConfig configures the discovery client
type DiscoveryConfig struct {
	URL     string
	Timeout time.Duration
}

// DiscoveryClient asks the neighbourhood discovery service for a thing
// description relevant to a query. It fails soft: any problem yields
// EmptyDiscoveryResult.
type DiscoveryClient struct {
	endpoint *url.URL
	client   *http.Client
	logger   *slog.Logger
	rec      recorder
}

// NewDiscoveryClient creates a discovery client. The timeout applies to the
// whole exchange and is usually minutes, not seconds.
func NewDiscoveryClient(cfg DiscoveryConfig, logger *slog.Logger, metrics *metric.Metrics) (*DiscoveryClient, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "DiscoveryClient", "New", "discovery URL is required")
	}
	endpoint, err := url.Parse(cfg.URL)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrInvalidConfig, cfg.URL),
			"DiscoveryClient", "New", "parse discovery URL")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DiscoveryClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With("component", "discovery-client"),
		rec:      recorder{m: metrics},
	}, nil
}

// Discover posts the raw query text to the discovery service. The roster is
// sent as repeated "neighbour" query parameters.
func (d *DiscoveryClient) Discover(ctx context.Context, query Query, roster Roster) DiscoveryResult {
	body, err := d.post(ctx, query, roster)
	if err != nil {
		d.logger.Warn("Discovery failed, continuing without candidates",
			"outcome", "discovery_failed",
			"url", d.endpoint.String(),
			"neighbours", len(roster),
			"error", err)
		d.rec.discovery("failed")
		return EmptyDiscoveryResult
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("[]")) {
		d.logger.Info("Discovery returned no candidates",
			"outcome", "no_candidates",
			"neighbours", len(roster))
		d.rec.discovery("no_candidates")
		return EmptyDiscoveryResult
	}

	d.rec.discovery("ok")
	return DiscoveryResult(trimmed)
}

func (d *DiscoveryClient) post(ctx context.Context, query Query, roster Roster) ([]byte, error) {
	target := *d.endpoint
	values := target.Query()
	for _, n := range roster {
		values.Add("neighbour", n)
	}
	target.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewBufferString(query.Text))
	if err != nil {
		return nil, errors.WrapInvalid(err, "DiscoveryClient", "Discover", "build request")
	}
	req.Header.Set("Accept", ContentTypeJSONLD)
	req.Header.Set("Content-Type", ContentTypeJSONLD)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "DiscoveryClient", "Discover", "post query")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.WrapTransient(fmt.Errorf("unexpected status %d", resp.StatusCode),
			"DiscoveryClient", "Discover", "post query")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBody))
	if err != nil {
		return nil, errors.WrapTransient(err, "DiscoveryClient", "Discover", "read response")
	}
	if len(bytes.TrimSpace(body)) > 0 && !json.Valid(body) {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "DiscoveryClient", "Discover", "decode response")
	}
	return body, nil
}
