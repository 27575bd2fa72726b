package worker

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

	computedomain "github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/worker/domain"
	"github.com/shopspring/decimal"
)

// WorkerTokenHeader authenticates worker callbacks.
const WorkerTokenHeader = "X-Worker-Token"

// HTTPReporter reports to the API service's worker callback endpoints.
type HTTPReporter struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Reporter = (*HTTPReporter)(nil)

// NewHTTPReporter creates a reporter for the API at baseURL.
func NewHTTPReporter(baseURL, token string, timeout time.Duration) *HTTPReporter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPReporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type assignedBody struct {
	WorkerRef string `json:"worker_ref"`
}

type completedBody struct {
	Output     json.RawMessage `json:"output,omitempty"`
	ActualCost decimal.Decimal `json:"actual_cost"`
}

type failedBody struct {
	Reason string `json:"reason"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RemoteError is a non-2xx answer from the API.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
	sentinel   error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("engine answered %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.sentinel
}

func (r *HTTPReporter) Assigned(ctx context.Context, jobID, workerRef string) (*domain.Job, error) {
	var job domain.Job
	if err := r.post(ctx, jobID, "assigned", assignedBody{WorkerRef: workerRef}, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *HTTPReporter) Started(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	if err := r.post(ctx, jobID, "started", struct{}{}, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *HTTPReporter) Completed(ctx context.Context, jobID string, output json.RawMessage, actualCost decimal.Decimal) error {
	return r.post(ctx, jobID, "completed", completedBody{Output: output, ActualCost: actualCost}, nil)
}

func (r *HTTPReporter) Failed(ctx context.Context, jobID, reason string) error {
	return r.post(ctx, jobID, "failed", failedBody{Reason: reason}, nil)
}

func (r *HTTPReporter) post(ctx context.Context, jobID, event string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s report: %w", event, err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/worker/jobs/%s/%s", r.baseURL, url.PathEscape(jobID), event)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s report: %w", event, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(WorkerTokenHeader, r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s report: %w", event, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", event, err)
	}

	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		return &RemoteError{
			StatusCode: resp.StatusCode,
			Code:       eb.Code,
			Message:    eb.Error,
			sentinel:   computedomain.ErrorForCode(eb.Code),
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", event, err)
		}
	}
	return nil
}
