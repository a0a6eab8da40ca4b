package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/biprop/internal/domain/apportion"
	"github.com/okian/biprop/internal/domain/model"
)

// remoteClient posts elections to a running apportionment service.
type remoteClient struct {
	baseURL string
	client  *http.Client
}

func newRemoteClient(baseURL string, timeout time.Duration) *remoteClient {
	return &remoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type remoteApportionment struct {
	Seats      model.SeatMatrix       `json:"seats"`
	Divisors   model.DivisorState     `json:"divisors"`
	Targets    model.Targets          `json:"targets"`
	Iterations int                    `json:"iterations"`
	Stats      apportion.Stats        `json:"stats"`
	Upper      *apportion.UpperResult `json:"upper,omitempty"`
}

type remoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Apportion runs POST /apportion.
func (c *remoteClient) Apportion(ctx context.Context, e model.Election) (*apportion.Result, error) { //nolint:gocritic // hugeParam: read-only input
	var out remoteApportionment
	if err := c.post(ctx, "/apportion", e, &out); err != nil {
		return nil, err
	}
	return &apportion.Result{
		Seats:      out.Seats,
		State:      out.Divisors,
		Targets:    out.Targets,
		Iterations: out.Iterations,
		Stats:      out.Stats,
		Upper:      out.Upper,
	}, nil
}

// Upper runs POST /upper.
func (c *remoteClient) Upper(ctx context.Context, e model.Election) (apportion.UpperResult, error) { //nolint:gocritic // hugeParam: read-only input
	var out apportion.UpperResult
	if err := c.post(ctx, "/upper", e, &out); err != nil {
		return apportion.UpperResult{}, err
	}
	return out, nil
}

func (c *remoteClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemote, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrRemote, err)
	}
	if resp.StatusCode != http.StatusOK {
		var re remoteError
		if json.Unmarshal(data, &re) == nil && re.Code != "" {
			return fmt.Errorf("%w: %d %s: %s", ErrRemote, resp.StatusCode, re.Code, re.Message)
		}
		return fmt.Errorf("%w: %d", ErrRemote, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrRemote, err)
	}
	return nil
}
