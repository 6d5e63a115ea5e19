package classify

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/osifo/clipgate/pkg/errorsx"
	"github.com/osifo/clipgate/pkg/jsonx"
	"github.com/osifo/clipgate/pkg/metrics"
)

// HTTPClassifier calls the external image-classification service. Calls retry
// with exponential backoff; a circuit breaker keeps a dead classifier from
// stalling every scan, surfacing ErrClassifierUnavailable instead.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	log      *zap.Logger
}

// NewHTTPClassifier creates a classifier adapter for the given endpoint.
func NewHTTPClassifier(endpoint string, log *zap.Logger) *HTTPClassifier {
	log = log.With(zap.String("module", "classifier"))
	settings := gobreaker.Settings{
		Name:        "ClassifierCB",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &HTTPClassifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		breaker:  gobreaker.NewCircuitBreaker(settings),
		log:      log,
	}
}

// ClassifyFrame encodes the frame as JPEG and posts it to the service.
func (c *HTTPClassifier) ClassifyFrame(ctx context.Context, frame image.Image) ([]Prediction, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	payload := buf.Bytes()

	var preds []Prediction
	operation := func() error {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.post(ctx, payload)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return backoff.Permanent(errorsx.ErrClassifierUnavailable)
			}
			return err
		}
		var ok bool
		if preds, ok = result.([]Prediction); !ok {
			return backoff.Permanent(errorsx.New("unexpected classifier result type"))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		metrics.ClassifierErrors.Inc()
		return nil, err
	}
	return preds, nil
}

func (c *HTTPClassifier) post(ctx context.Context, payload []byte) ([]Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, string(body))
	}

	var preds []Prediction
	if err := jsonx.NewDecoder(resp.Body).Decode(&preds); err != nil {
		return nil, fmt.Errorf("failed to decode classifier response: %w", err)
	}
	return preds, nil
}
