package findata

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/haasonsaas/finagent/internal/backoff"
)

const (
	fetchAttempts = 3
	maxBodyBytes  = 10 << 20
)

// fetchWithRetry performs a GET, retrying transport errors, throttling, and
// server-side failures with backoff. The request must have a nil body so it
// can be reissued.
func fetchWithRetry(ctx context.Context, client *http.Client, req *http.Request, label string) ([]byte, error) {
	var body []byte
	err := backoff.Retry(ctx, backoff.Default(), fetchAttempts, func() (bool, error) {
		resp, err := client.Do(req)
		if err != nil {
			return true, fmt.Errorf("%s: %w", label, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return true, fmt.Errorf("%s: read response: %w", label, err)
		}
		if resp.StatusCode != http.StatusOK {
			retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
			return retryable, fmt.Errorf("%s: status %d", label, resp.StatusCode)
		}
		body = data
		return false, nil
	})
	return body, err
}
