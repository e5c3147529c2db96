package httpworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/ports"
	"github.com/manthysbr/censord/pkg/agent"
)

// Client calls worker agents over HTTP.
type Client struct {
	client *http.Client
}

var _ ports.WorkerClient = (*Client)(nil)

func NewClient(timeout time.Duration) *Client {
	return &Client{
		client: &http.Client{Timeout: timeout},
	}
}

// Process posts text to {addr}/process. Connection failures and 503s mean the
// worker is gone; any other non-2xx reply is an application failure.
func (c *Client) Process(ctx context.Context, addr domain.WorkerAddress, text string, insults []string) (string, error) {
	body, err := json.Marshal(agent.ProcessRequest{Text: text, Insults: insults})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, string(addr)+"/process", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrWorkerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return "", fmt.Errorf("%w: worker is shutting down", domain.ErrWorkerUnreachable)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: worker returned %d: %s", domain.ErrProcessing, resp.StatusCode, readError(resp.Body))
	}

	var out agent.ProcessResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", domain.ErrProcessing, err)
	}
	return out.Filtered, nil
}

func readError(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return err.Error()
	}
	var e agent.ErrorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(bytes.TrimSpace(raw))
}
