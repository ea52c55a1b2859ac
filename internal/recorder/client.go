// Package recorder is the agent that runs on a recording machine: it polls
// the coordinator for work, drives a job through recording and uploading, and
// reports every transition back over HTTP.
package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/replayops/recfleet/internal/api/dto"
	"github.com/replayops/recfleet/internal/scheduler/domain"
)

// Client talks to the coordinator's worker-facing endpoints.
type Client struct {
	baseURL  string
	workerID string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a coordinator client for the given worker identity.
func NewClient(baseURL, workerID string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		workerID: workerID,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// post sends a JSON request and decodes the JSON response into out.
// notFound is the sentinel a 404 wraps; the poll and status endpoints miss
// on different entities.
func (c *Client) post(ctx context.Context, path string, body, out any, notFound error) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to coordinator failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", notFound, string(raw))
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", domain.ErrConflict, string(raw))
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, string(raw))
		default:
			return fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, string(raw))
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode coordinator response: %w", err)
		}
	}
	return nil
}

// Poll is the heartbeat: refreshes the worker's liveness and returns the
// current assignment, if any.
func (c *Client) Poll(ctx context.Context) (dto.PollResponse, error) {
	var resp dto.PollResponse
	err := c.post(ctx, "/api/v1/workers/"+c.workerID+"/poll", nil, &resp, domain.ErrWorkerNotFound)
	if err != nil {
		return dto.PollResponse{}, err
	}
	return resp, nil
}

// ReportStatus records a stage transition for the job this worker holds.
func (c *Client) ReportStatus(ctx context.Context, jobID int64, status domain.Status, comment string) (dto.JobDTO, error) {
	path := fmt.Sprintf("/api/v1/workers/%s/jobs/%d/status", c.workerID, jobID)
	body := dto.ReportStatusRequest{Status: status.String(), Comment: comment}

	var job dto.JobDTO
	if err := c.post(ctx, path, body, &job, domain.ErrJobNotFound); err != nil {
		return dto.JobDTO{}, err
	}
	return job, nil
}
