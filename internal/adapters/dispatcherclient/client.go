package dispatcherclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/ports"
	"github.com/manthysbr/censord/pkg/api"
)

// Client talks to the dispatcher HTTP API. Worker agents use it to register,
// the autoscaler to read the backlog, and the CLI to submit jobs.
type Client struct {
	baseURL string
	client  *http.Client
}

var (
	_ ports.Registrar       = (*Client)(nil)
	_ ports.BacklogObserver = (*Client)(nil)
)

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Register(ctx context.Context, addr domain.WorkerAddress) (domain.RegistrationStatus, error) {
	var out api.RegistrationResponse
	if err := c.do(ctx, http.MethodPost, "/v1/workers", api.WorkerRequest{Address: string(addr)}, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) Unregister(ctx context.Context, addr domain.WorkerAddress) (domain.RegistrationStatus, error) {
	var out api.RegistrationResponse
	if err := c.do(ctx, http.MethodPost, "/v1/workers/unregister", api.WorkerRequest{Address: string(addr)}, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) BacklogDepth(ctx context.Context) (int, error) {
	var out api.BacklogResponse
	if err := c.do(ctx, http.MethodGet, "/v1/backlog", nil, &out); err != nil {
		return 0, err
	}
	return out.Pending, nil
}

// Submit posts one job and waits for its result.
func (c *Client) Submit(ctx context.Context, text string) (domain.Result, error) {
	var out api.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", api.SubmitRequest{Text: text}, &out); err != nil {
		return domain.Result{}, err
	}
	return domain.Result{
		Seq:         out.Seq,
		JobID:       domain.JobID(out.JobID),
		Original:    out.Original,
		Filtered:    out.Filtered,
		ProcessedBy: domain.WorkerAddress(out.Worker),
	}, nil
}

// Results returns the newest limit results, or all of them when limit <= 0.
func (c *Client) Results(ctx context.Context, limit int) ([]domain.Result, error) {
	path := "/v1/results"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out api.ResultsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) ClearResults(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/results", nil, nil)
}

func (c *Client) Workers(ctx context.Context) ([]domain.WorkerHandle, error) {
	var out api.WorkersResponse
	if err := c.do(ctx, http.MethodGet, "/v1/workers", nil, &out); err != nil {
		return nil, err
	}
	return out.Workers, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatcher connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(method+" "+path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError turns a tagged error body back into a *domain.Error.
func decodeError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var e api.ErrorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Kind != "" {
		kind := domain.ErrorKind(e.Kind)
		if kind.Sentinel() != nil {
			return domain.NewError(kind, op, "", errors.New(e.Message))
		}
	}
	return fmt.Errorf("%s: dispatcher returned %d: %s", op, resp.StatusCode, strings.TrimSpace(string(raw)))
}
