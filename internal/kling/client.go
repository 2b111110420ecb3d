package kling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maauso/cardmotion/internal/transport"
)

// DefaultBaseURL is the public Kling API endpoint.
const DefaultBaseURL = "https://api.klingai.com"

// tokenTTL is how long a signed access token stays valid.
const tokenTTL = 30 * time.Minute

// Static errors for Kling client operations.
var (
	// ErrCredentialsRequired is returned when neither a token nor an access key pair is set.
	ErrCredentialsRequired = errors.New("kling: API token or access key pair is required")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("kling: task ID is required")
	// ErrImageRequired is returned when the base64 image is empty.
	ErrImageRequired = errors.New("kling: image is required")
)

// Client defines the interface for interacting with the Kling API.
type Client interface {
	// Submit creates an image2video task from a base64 image.
	Submit(ctx context.Context, imageB64 string, opts SubmitOptions) (SubmitResult, error)

	// Poll fetches and normalizes the current state of a task.
	Poll(ctx context.Context, taskID string) (PollResult, error)
}

// HTTPClient is the HTTP implementation of the Kling Client interface.
type HTTPClient struct {
	token      string
	accessKey  string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithToken authenticates with a pre-issued bearer token.
func WithToken(token string) ClientOption {
	return func(hc *HTTPClient) {
		hc.token = strings.TrimSpace(token)
	}
}

// WithAccessKeys authenticates by signing short-lived tokens from an
// access key / secret key pair.
func WithAccessKeys(accessKey, secretKey string) ClientOption {
	return func(hc *HTTPClient) {
		hc.accessKey = strings.TrimSpace(accessKey)
		hc.secretKey = strings.TrimSpace(secretKey)
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL overrides the Kling base URL, e.g. to go through the dev relay.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		if u != "" {
			hc.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// NewClient creates a new Kling HTTP client.
// A static token takes precedence over an access key pair.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.token == "" && (c.accessKey == "" || c.secretKey == "") {
		return nil, ErrCredentialsRequired
	}
	return c, nil
}

// Submit sends exactly one image2video request.
func (c *HTTPClient) Submit(ctx context.Context, imageB64 string, opts SubmitOptions) (SubmitResult, error) {
	if imageB64 == "" {
		return SubmitResult{}, ErrImageRequired
	}

	defaults := DefaultSubmitOptions()
	if opts.ModelName == "" {
		opts.ModelName = defaults.ModelName
	}

	reqBody := image2VideoRequest{
		ModelName:      opts.ModelName,
		Image:          imageB64,
		Prompt:         opts.Prompt,
		NegativePrompt: opts.NegativePrompt,
		CfgScale:       opts.CfgScale,
		Mode:           opts.Mode,
		AspectRatio:    opts.AspectRatio,
		CameraControl:  opts.Camera,
	}
	if opts.Duration > 0 {
		reqBody.Duration = strconv.Itoa(opts.Duration)
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("kling: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/videos/image2video", bytes.NewReader(bodyBytes))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("kling: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(ctx, req)
	if err != nil {
		return SubmitResult{}, err
	}
	return parseSubmit(body)
}

// Poll queries GET /v1/videos/image2video/{taskID}.
func (c *HTTPClient) Poll(ctx context.Context, taskID string) (PollResult, error) {
	if taskID == "" {
		return PollResult{}, ErrTaskIDRequired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/videos/image2video/"+url.PathEscape(taskID), nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("kling: create request: %w", err)
	}

	body, err := c.do(ctx, req)
	if err != nil {
		return PollResult{}, err
	}
	return parseStatus(body)
}

func (c *HTTPClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	body, err := transport.Do(ctx, c.httpClient, req)
	if err != nil {
		return nil, fmt.Errorf("kling: %w", err)
	}
	return body, nil
}

// bearer returns the static token, or signs a fresh HS256 token with
// iss=accessKey as Kling requires.
func (c *HTTPClient) bearer() (string, error) {
	if c.token != "" {
		return c.token, nil
	}

	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.accessKey,
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("kling: sign token: %w", err)
	}
	return signed, nil
}

func parseSubmit(body []byte) (SubmitResult, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return SubmitResult{}, fmt.Errorf("kling: %w: %w", transport.ErrMalformedBody, err)
	}
	if env.Code != codeOK {
		msg := env.Message
		if msg == "" {
			msg = "request rejected"
		}
		return SubmitResult{}, &transport.EnvelopeError{Code: env.Code, Message: msg}
	}

	return SubmitResult{
		TaskID:   env.Data.TaskID,
		VideoURL: firstVideo(env.Data.TaskResult),
	}, nil
}

func parseStatus(body []byte) (PollResult, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return PollResult{}, fmt.Errorf("kling: %w: %w", transport.ErrMalformedBody, err)
	}

	data := env.Data
	status := Status(strings.ToLower(strings.TrimSpace(data.TaskStatus)))

	if env.Code != codeOK || status == StatusFailed {
		reason := data.TaskStatusMsg
		if reason == "" && env.Code != codeOK {
			reason = env.Message
		}
		if reason == "" {
			reason = "generation failed"
		}
		return PollResult{Status: StatusFailed, Error: reason}, nil
	}

	result := PollResult{Status: status}
	if v := firstVideo(data.TaskResult); v != "" {
		result.Status = StatusSucceed
		result.VideoURL = v
	}
	return result, nil
}

// firstVideo returns the first rendered video. Kling's direct API does not
// watermark API renders, so there is only one URL per video.
func firstVideo(r taskResult) string {
	for _, v := range r.Videos {
		if v.URL != "" {
			return v.URL
		}
	}
	return ""
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
