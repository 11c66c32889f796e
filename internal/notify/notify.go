package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/soniclane/transcript-pipeline/internal/logger"
	"github.com/soniclane/transcript-pipeline/internal/types"
)

// Event is the completion payload sent to downstream listeners.
type Event struct {
	JobID     string    `json:"job_id"`
	State     string    `json:"state"`
	File      string    `json:"file"`
	Artifacts []string  `json:"artifacts,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier delivers terminal job events. Delivery is best-effort: a
// completed job stays completed even if nobody hears about it.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to the log. Default when no webhook is
// configured.
type LogNotifier struct {
	Log logger.Logger
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.Log.Info("job %s -> %s (file: %s, error: %q)",
		event.JobID, event.State, event.File, event.Error)
	return nil
}

// WebhookNotifier POSTs events as JSON, signed with the same HMAC scheme
// the inbound gateway verifies.
type WebhookNotifier struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Secret: secret,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Secret != "" {
		req.Header.Set("X-Pipeline-Signature", Sign(n.Secret, body))
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return types.Transient(fmt.Errorf("deliver event: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return types.Transient(fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
