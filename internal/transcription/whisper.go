package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

// WhisperClient speaks the OpenAI audio transcription API (or any
// compatible endpoint). Calls are gated by a token-bucket limiter so
// parallel chunk transcription stays inside the provider's rate limits.
type WhisperClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewWhisperClient creates a client for the given endpoint.
func NewWhisperClient(baseURL, apiKey, model string, rps float64, burst int) *WhisperClient {
	return &WhisperClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// verboseResponse matches response_format=verbose_json.
type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Transcribe uploads one audio payload and returns its timed segments.
func (c *WhisperClient) Transcribe(ctx context.Context, audio io.Reader, filename string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	form.WriteField("model", c.model)
	form.WriteField("response_format", "verbose_json")
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures are worth retrying.
		return nil, types.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyError(resp)
	}

	var decoded verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}

	result := &Result{
		Text:            strings.TrimSpace(decoded.Text),
		Language:        decoded.Language,
		DurationSeconds: decoded.Duration,
		Segments:        make([]types.TranscriptSegment, len(decoded.Segments)),
	}
	for i, seg := range decoded.Segments {
		result.Segments[i] = types.TranscriptSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
	}
	return result, nil
}

// classifyError maps provider failures onto the pipeline taxonomy:
// throttling and server errors are transient, quota exhaustion is fatal,
// everything else is a permanent request error.
func (c *WhisperClient) classifyError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))

	var parsed apiError
	_ = json.Unmarshal(raw, &parsed)

	switch {
	case parsed.Error.Type == "insufficient_quota":
		return fmt.Errorf("%w: %s", types.ErrQuotaExceeded, parsed.Error.Message)
	case resp.StatusCode == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &types.TransientError{
			Err:        fmt.Errorf("rate limited: %s", parsed.Error.Message),
			RetryAfter: retryAfter,
		}
	case resp.StatusCode >= 500:
		return types.Transient(fmt.Errorf("provider %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	default:
		return fmt.Errorf("provider %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
}
