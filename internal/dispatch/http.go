package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPTrigger submits jobs to a remote worker endpoint instead of an
// in-process pool, for deployments where the gateway and the workers
// run on separate machines. The POST is fire-and-forget: the remote
// side acknowledges receipt, not completion.
type HTTPTrigger struct {
	URL    string
	Client *http.Client
}

// NewHTTPTrigger builds a trigger against the worker endpoint.
func NewHTTPTrigger(url string) *HTTPTrigger {
	return &HTTPTrigger{
		URL:    url,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Submit implements Dispatcher.
func (t *HTTPTrigger) Submit(ctx context.Context, jobID string) error {
	body, err := json.Marshal(map[string]string{"job_id": jobID})
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("trigger job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("trigger job %s: worker returned %d", jobID, resp.StatusCode)
	}
	return nil
}
