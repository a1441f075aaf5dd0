package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/versus-control/deployctl/internal/logging"
	"github.com/versus-control/deployctl/pkg/types"
)

// Checker polls an HTTP health endpoint with fixed-interval bounded retries.
type Checker struct {
	client   *http.Client
	interval time.Duration
	retries  int
	logger   *logging.Logger
}

// NewChecker creates a health checker. retries is the number of attempts
// after the first, interval the fixed delay between attempts.
func NewChecker(interval time.Duration, retries int, logger *logging.Logger) *Checker {
	return &Checker{
		client:   &http.Client{Timeout: 10 * time.Second},
		interval: interval,
		retries:  retries,
		logger:   logger,
	}
}

// healthBody is the application's /health response shape
type healthBody struct {
	Status string `json:"status"`
}

// Validate polls endpoint until it reports healthy or retries are exhausted.
// A 200 response counts as healthy; when the body is JSON it must also carry
// "status": "healthy".
func (c *Checker) Validate(ctx context.Context, endpoint string) (*types.HealthReport, error) {
	report := &types.HealthReport{Endpoint: endpoint}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), uint64(c.retries)),
		ctx,
	)

	check := func() error {
		report.Attempts++
		if err := c.probe(ctx, endpoint); err != nil {
			c.logger.WithField("attempt", report.Attempts).WithError(err).Debug("Health probe failed")
			return err
		}
		return nil
	}

	err := backoff.Retry(check, policy)
	report.CheckedAt = time.Now()
	report.Healthy = err == nil

	if err != nil {
		return report, fmt.Errorf("health validation failed after %d attempt(s): %w", report.Attempts, err)
	}

	c.logger.WithField("attempts", report.Attempts).Info("Health endpoint reported healthy")
	return report, nil
}

func (c *Checker) probe(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("reading health response: %w", err)
	}

	// Non-JSON 200 bodies are accepted; JSON bodies must agree
	var parsed healthBody
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr == nil && parsed.Status != "" && parsed.Status != "healthy" {
		return fmt.Errorf("health endpoint reported status %q", parsed.Status)
	}

	return nil
}
