package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"video-gate-service/internal/domain"
)

// AttemptClient posts attempts to the attempt-storage collaborator over
// HTTP: POST {base}/api/attempt/{quizID}. A 409 response means the nonce was
// already recorded and maps to domain.ErrDuplicateAttempt, which callers
// treat as success.
type AttemptClient struct {
	base   string
	client *http.Client
}

func NewAttemptClient(baseURL string, timeout time.Duration) *AttemptClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AttemptClient{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (c *AttemptClient) SubmitAttempt(ctx context.Context, quizID string, attempt domain.Attempt) error {
	body, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}

	endpoint := c.base + "/api/attempt/" + url.PathEscape(quizID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build attempt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("submit attempt: %w", err)
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return domain.ErrDuplicateAttempt
	default:
		return fmt.Errorf("submit attempt: unexpected status %d", resp.StatusCode)
	}
}
