package common

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"animestream/catalogservice/internal/provider"
)

const maxBodyBytes = 4 * 1024 * 1024

// Fetch performs a GET and returns the body. Throttling and server errors
// come back as *provider.StatusError so the dispatcher retries them.
func Fetch(ctx context.Context, client *http.Client, name, rawURL, userAgent, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return nil, &provider.StatusError{
			Provider:   name,
			Code:       resp.StatusCode,
			RetryAfter: provider.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("provider HTTP %d: %s", resp.StatusCode, CompactSnippet(string(body), 220))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}
