// Package server provides the HTTP API for product-card animations.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// CameraRequest is a simple camera movement. At most one axis should be non-zero.
type CameraRequest struct {
	Type       string  `json:"type" validate:"required,oneof=simple"`
	Horizontal float64 `json:"horizontal" validate:"min=-10,max=10"`
	Vertical   float64 `json:"vertical" validate:"min=-10,max=10"`
	Pan        float64 `json:"pan" validate:"min=-10,max=10"`
	Tilt       float64 `json:"tilt" validate:"min=-10,max=10"`
	Roll       float64 `json:"roll" validate:"min=-10,max=10"`
	Zoom       float64 `json:"zoom" validate:"min=-10,max=10"`
}

// AnimationOptions are the optional generation parameters accepted in both
// the JSON and the multipart form.
type AnimationOptions struct {
	AspectRatio    string         `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=1:1 16:9 9:16"`
	Duration       int            `json:"duration,omitempty" validate:"omitempty,oneof=5 10"`
	CfgScale       *float64       `json:"cfg_scale,omitempty" validate:"omitempty,min=0,max=1"`
	Mode           string         `json:"mode,omitempty" validate:"omitempty,oneof=std pro"`
	NegativePrompt string         `json:"negative_prompt,omitempty" validate:"max=2500"`
	Camera         *CameraRequest `json:"camera,omitempty"`
}

// CreateAnimationRequest is the JSON request body for starting an animation.
// Exactly one of ImageURL and ImageBase64 must be set.
type CreateAnimationRequest struct {
	// ImageURL is a hosted jpg/jpeg/png image.
	ImageURL string `json:"image_url,omitempty" validate:"required_without=ImageBase64,excluded_with=ImageBase64"`
	// ImageBase64 is the base64 image, optionally as a data URL.
	ImageBase64 string `json:"image_base64,omitempty" validate:"required_without=ImageURL"`
	// Prompt describes the desired motion.
	Prompt string `json:"prompt" validate:"required,max=2500"`

	AnimationOptions
}

// AnimationResponse is the HTTP response describing an animation.
type AnimationResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Provider    string `json:"provider,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	VideoURL    string `json:"video_url,omitempty"`
	ArchivedURL string `json:"archived_url,omitempty"`
	// Error is the failure reason for FAILED, TIMED_OUT and CANCELLED.
	Error   string `json:"error,omitempty"`
	Failure string `json:"failure,omitempty"`
}

// SuggestionsResponse lists suggested prompts.
type SuggestionsResponse struct {
	Prompts []string `json:"prompts"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Provider is the configured video provider.
	Provider string `json:"provider"`
}
