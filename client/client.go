package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"experiment-tracker/core/models"
)

// Client is the HTTP pull client for snapshots and lifecycle control.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL, e.g.
// "http://localhost:8000".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateJob submits a job. The server returns the existing job when the
// parameters duplicate one already known for the experiment.
func (c *Client) CreateJob(ctx context.Context, name string, experimentID int64, params models.Parameters) (*models.Job, error) {
	body := map[string]any{
		"name":          name,
		"experiment_id": experimentID,
		"parameters":    params,
	}
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob pulls the full snapshot for one job, including history.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs pulls the job list, without history.
func (c *Client) ListJobs(ctx context.Context, experimentID *int64) ([]*models.Job, error) {
	path := "/v1/jobs"
	if experimentID != nil {
		path += "?experiment_id=" + strconv.FormatInt(*experimentID, 10)
	}

	var resp struct {
		Items []*models.Job `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// StartJob requests an explicit start.
func (c *Client) StartJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob requests cooperative cancellation.
func (c *Client) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID+"/cancel", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// DeleteJob removes a job.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/jobs/"+jobID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	reqBody := &bytes.Buffer{}
	if body != nil {
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var detail struct {
			Detail string `json:"detail"`
		}
		json.NewDecoder(resp.Body).Decode(&detail)
		if detail.Detail == "" {
			detail.Detail = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, detail.Detail)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
