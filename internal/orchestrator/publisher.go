package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/osifo/clipgate/pkg/jsonx"
)

// HTTPPublisher hands publish requests to the external scheduler service over
// HTTP.
type HTTPPublisher struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

// NewHTTPPublisher creates a publisher for the given endpoint.
func NewHTTPPublisher(endpoint string, log *zap.Logger) *HTTPPublisher {
	return &HTTPPublisher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.With(zap.String("module", "publisher")),
	}
}

// Schedule posts the request as JSON.
func (p *HTTPPublisher) Schedule(ctx context.Context, req PublishRequest) error {
	b, err := jsonx.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal publish request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to create publish request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send publish request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("publisher returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
