package direct

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/cardmotion/internal/encoder"
	"github.com/maauso/cardmotion/internal/transport"
)

// Static errors for direct client operations.
var (
	// ErrBaseURLRequired is returned when no endpoint is configured.
	ErrBaseURLRequired = errors.New("direct: base URL is required")
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("direct: API key is required")
	// ErrJobIDRequired is returned when the job ID is not provided.
	ErrJobIDRequired = errors.New("direct: job ID is required")
)

// Client defines the interface for interacting with a direct endpoint.
type Client interface {
	// Submit uploads the image with its options as one multipart request.
	Submit(ctx context.Context, image encoder.Source, opts SubmitOptions) (SubmitResult, error)

	// Poll fetches and normalizes the current state of a job.
	Poll(ctx context.Context, jobID string) (PollResult, error)
}

// HTTPClient is the HTTP implementation of the direct Client interface.
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

// NewClient creates a new direct HTTP client. Both submit and status calls go
// to baseURL; status adds an id query parameter.
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*HTTPClient, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	c := &HTTPClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit sends exactly one multipart POST to the base URL.
func (c *HTTPClient) Submit(ctx context.Context, image encoder.Source, opts SubmitOptions) (SubmitResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := image.WritePart(ctx, c.httpClient, mw, imageField); err != nil {
		return SubmitResult{}, fmt.Errorf("direct: %w", err)
	}
	for _, f := range formFields(opts) {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return SubmitResult{}, fmt.Errorf("direct: write field %s: %w", f.name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return SubmitResult{}, fmt.Errorf("direct: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, &buf)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("direct: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.do(ctx, req)
	if err != nil {
		return SubmitResult{}, err
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return SubmitResult{}, fmt.Errorf("direct: %w: %w", transport.ErrMalformedBody, err)
	}
	return SubmitResult{JobID: resp.JobID, VideoURL: resp.VideoURL}, nil
}

// Poll queries GET {base}?id={jobID}.
func (c *HTTPClient) Poll(ctx context.Context, jobID string) (PollResult, error) {
	if jobID == "" {
		return PollResult{}, ErrJobIDRequired
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return PollResult{}, fmt.Errorf("direct: parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("id", jobID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("direct: create request: %w", err)
	}

	body, err := c.do(ctx, req)
	if err != nil {
		return PollResult{}, err
	}
	return parseStatus(body)
}

func (c *HTTPClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	body, err := transport.Do(ctx, c.httpClient, req)
	if err != nil {
		return nil, fmt.Errorf("direct: %w", err)
	}
	return body, nil
}

func parseStatus(body []byte) (PollResult, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return PollResult{}, fmt.Errorf("direct: %w: %w", transport.ErrMalformedBody, err)
	}

	status := Status(strings.ToLower(strings.TrimSpace(resp.Status)))
	if status == StatusFailed {
		reason := resp.Error
		if reason == "" {
			reason = "generation failed"
		}
		return PollResult{Status: StatusFailed, Error: reason}, nil
	}

	result := PollResult{Status: status}
	if resp.VideoURL != "" {
		result.Status = StatusCompleted
		result.VideoURL = resp.VideoURL
	}
	return result, nil
}

type formField struct {
	name  string
	value string
}

// formFields lists the set options in a fixed order so the request body is
// reproducible.
func formFields(opts SubmitOptions) []formField {
	fields := []formField{{"prompt", opts.Prompt}}
	if opts.NegativePrompt != "" {
		fields = append(fields, formField{"negative_prompt", opts.NegativePrompt})
	}
	if opts.AspectRatio != "" {
		fields = append(fields, formField{"aspect_ratio", opts.AspectRatio})
	}
	if opts.Duration > 0 {
		fields = append(fields, formField{"duration", strconv.Itoa(opts.Duration)})
	}
	if opts.CfgScale != nil {
		fields = append(fields, formField{"cfg_scale", strconv.FormatFloat(*opts.CfgScale, 'f', -1, 64)})
	}
	if opts.Mode != "" {
		fields = append(fields, formField{"mode", opts.Mode})
	}
	return fields
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
