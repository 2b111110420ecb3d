// Package kling provides an HTTP client for the official Kling AI
// image-to-video API, which takes the image inline as base64.
package kling

// Status represents the status of a Kling task.
type Status string

// Kling task statuses aligned with the Kling API.
const (
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusSucceed    Status = "succeed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusSucceed || s == StatusFailed
}

// codeOK is the envelope code Kling uses for accepted requests.
const codeOK = 0

// CameraControl mirrors the Kling camera_control object.
type CameraControl struct {
	Type   string        `json:"type"`
	Config *CameraConfig `json:"config,omitempty"`
}

// CameraConfig holds the simple camera movement axes. Kling accepts exactly
// one non-zero axis for type "simple".
type CameraConfig struct {
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
	Pan        float64 `json:"pan"`
	Tilt       float64 `json:"tilt"`
	Roll       float64 `json:"roll"`
	Zoom       float64 `json:"zoom"`
}

// SubmitOptions contains optional parameters for an image2video task.
type SubmitOptions struct {
	Prompt         string
	NegativePrompt string
	ModelName      string
	Mode           string
	Duration       int
	AspectRatio    string
	CfgScale       *float64
	Camera         *CameraControl
}

// DefaultSubmitOptions returns the defaults documented by Kling.
func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{
		ModelName: "kling-v1",
		Mode:      "std",
		Duration:  5,
	}
}

// image2VideoRequest is the body of POST /v1/videos/image2video.
type image2VideoRequest struct {
	ModelName      string         `json:"model_name,omitempty"`
	Image          string         `json:"image"`
	Prompt         string         `json:"prompt,omitempty"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	CfgScale       *float64       `json:"cfg_scale,omitempty"`
	Mode           string         `json:"mode,omitempty"`
	Duration       string         `json:"duration,omitempty"`
	AspectRatio    string         `json:"aspect_ratio,omitempty"`
	CameraControl  *CameraControl `json:"camera_control,omitempty"`
}

// envelope wraps every Kling response.
type envelope struct {
	Code      int      `json:"code"`
	Message   string   `json:"message"`
	RequestID string   `json:"request_id"`
	Data      taskData `json:"data"`
}

type taskData struct {
	TaskID        string     `json:"task_id"`
	TaskStatus    string     `json:"task_status"`
	TaskStatusMsg string     `json:"task_status_msg"`
	TaskResult    taskResult `json:"task_result"`
}

type taskResult struct {
	Videos []video `json:"videos"`
}

type video struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Duration string `json:"duration"`
}

// SubmitResult is what a create-task call yielded.
type SubmitResult struct {
	TaskID   string
	VideoURL string
}

// PollResult contains the normalized result of a status query.
type PollResult struct {
	Status   Status
	VideoURL string
	Error    string
}
