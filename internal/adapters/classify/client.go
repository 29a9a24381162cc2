// Package classify talks to the external device-classification service.
// Peaks are shipped as protobuf over HTTP and come back as candidate
// device categories with confidence scores.
package classify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/enersight/peakd/internal/domain/mark"
	"github.com/enersight/peakd/pkg/logger"
)

const (
	contentType    = "application/x-protobuf"
	defaultTimeout = 30 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 4 << 20
)

// Client implements mark.Classifier over the service's HTTP endpoint.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	log        logger.Logger
}

// New creates a classification client. The URL and API key are required;
// construction fails early rather than on the first request.
func New(url, apiKey string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("classify: service url not configured")
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	c := &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        logger.Named("classify"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify sends a batch of peak series and returns the service's
// attributions. Peaks the service has nothing to say about are simply
// absent from the result.
func (c *Client) Classify(ctx context.Context, peaks []mark.PeakSeries) ([]mark.Attribution, error) {
	if len(peaks) == 0 {
		return nil, nil
	}

	body := encodeRequest(peaks)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("classify: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("classify: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn(ctx, "classification service rejected request",
			logger.Int("status", resp.StatusCode),
			logger.Int("peaks", len(peaks)))
		return nil, fmt.Errorf("classify: unexpected status %d", resp.StatusCode)
	}

	results, err := decodeResponse(data)
	if err != nil {
		return nil, err
	}

	c.log.Debug(ctx, "classified peaks",
		logger.Int("peaks", len(peaks)),
		logger.Int("results", len(results)))

	return results, nil
}
