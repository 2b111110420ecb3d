package piapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maauso/cardmotion/internal/transport"
)

// DefaultBaseURL is the public PiAPI endpoint.
const DefaultBaseURL = "https://api.piapi.ai"

// Static errors for PiAPI client operations.
var (
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("piapi: API key is required")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("piapi: task ID is required")
	// ErrImageURLRequired is returned when no hosted image URL is given.
	ErrImageURLRequired = errors.New("piapi: image URL is required")
)

// Client defines the interface for interacting with the PiAPI task API.
type Client interface {
	// Submit creates an image-to-video task from a hosted image.
	Submit(ctx context.Context, imageURL string, opts SubmitOptions) (SubmitResult, error)

	// Poll fetches and normalizes the current state of a task.
	Poll(ctx context.Context, taskID string) (PollResult, error)
}

// HTTPClient is the HTTP implementation of the PiAPI Client interface.
type HTTPClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL overrides the PiAPI base URL, e.g. to go through the dev relay.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		if u != "" {
			hc.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// NewClient creates a new PiAPI HTTP client authenticated with apiKey.
func NewClient(apiKey string, opts ...ClientOption) (*HTTPClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	c := &HTTPClient{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit sends exactly one create-task request.
func (c *HTTPClient) Submit(ctx context.Context, imageURL string, opts SubmitOptions) (SubmitResult, error) {
	if imageURL == "" {
		return SubmitResult{}, ErrImageURLRequired
	}

	defaults := DefaultSubmitOptions()
	if opts.Model == "" {
		opts.Model = defaults.Model
	}

	reqBody := taskRequest{
		Model:    opts.Model,
		TaskType: "video_generation",
		Input: taskInput{
			Prompt:         opts.Prompt,
			NegativePrompt: opts.NegativePrompt,
			ImageURL:       imageURL,
			AspectRatio:    opts.AspectRatio,
			Duration:       opts.Duration,
			CfgScale:       opts.CfgScale,
			Mode:           opts.Mode,
			CameraControl:  opts.Camera,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("piapi: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/task", bytes.NewReader(bodyBytes))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("piapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(ctx, req)
	if err != nil {
		return SubmitResult{}, err
	}
	return parseSubmit(body)
}

// Poll queries GET /api/v1/task/{taskID}.
func (c *HTTPClient) Poll(ctx context.Context, taskID string) (PollResult, error) {
	if taskID == "" {
		return PollResult{}, ErrTaskIDRequired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/task/"+url.PathEscape(taskID), nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("piapi: create request: %w", err)
	}

	body, err := c.do(ctx, req)
	if err != nil {
		return PollResult{}, err
	}
	return parseStatus(body)
}

func (c *HTTPClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	body, err := transport.Do(ctx, c.httpClient, req)
	if err != nil {
		return nil, fmt.Errorf("piapi: %w", err)
	}
	return body, nil
}

// parseSubmit decodes a create-task response. A non-OK envelope code is a
// rejection and is reported before looking at the payload.
func parseSubmit(body []byte) (SubmitResult, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return SubmitResult{}, fmt.Errorf("piapi: %w: %w", transport.ErrMalformedBody, err)
	}
	if env.rejected() {
		return SubmitResult{}, &transport.EnvelopeError{
			Code:    *env.Code,
			Message: firstNonEmpty(env.Data.Error.Message, env.Data.Error.RawMessage, env.Message, "request rejected"),
		}
	}

	return SubmitResult{
		TaskID:   env.Data.TaskID,
		VideoURL: pickVideo(env.Data.Output),
	}, nil
}

// parseStatus decodes a task status response into a PollResult.
func parseStatus(body []byte) (PollResult, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return PollResult{}, fmt.Errorf("piapi: %w: %w", transport.ErrMalformedBody, err)
	}

	data := env.task()
	status := Status(strings.ToLower(strings.TrimSpace(data.Status)))

	if env.rejected() || status == StatusFailed {
		return PollResult{
			Status: StatusFailed,
			Error:  firstNonEmpty(data.Error.Message, data.Error.RawMessage, nonOKMessage(env), "generation failed"),
		}, nil
	}

	result := PollResult{Status: status, Progress: data.Output.Status}
	if status == "" && result.Progress > 0 && result.Progress < completedProgress {
		result.Status = StatusProcessing
	}
	if v := pickVideo(data.Output); v != "" {
		result.Status = StatusCompleted
		result.VideoURL = v
	}
	return result, nil
}

// pickVideo prefers an unwatermarked render over a watermarked one.
func pickVideo(out taskOutput) string {
	for _, w := range out.Works {
		if w.Video.ResourceWithoutWatermark != "" {
			return w.Video.ResourceWithoutWatermark
		}
	}
	if out.VideoURL != "" {
		return out.VideoURL
	}
	for _, w := range out.Works {
		if w.Video.Resource != "" {
			return w.Video.Resource
		}
	}
	return ""
}

func nonOKMessage(env envelope) string {
	if !env.rejected() {
		return ""
	}
	return env.Message
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
