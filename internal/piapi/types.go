// Package piapi provides an HTTP client for the PiAPI unified task API,
// used here for Kling image-to-video generation from a hosted image URL.
package piapi

// Status represents the status of a PiAPI task.
type Status string

// PiAPI task statuses. The API lowercases them on the wire but has been seen
// returning capitalized variants; parseStatus folds case.
const (
	StatusPending    Status = "pending"
	StatusStaged     Status = "staged"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// codeOK is the envelope code PiAPI uses for accepted requests.
const codeOK = 200

// completedProgress is the works[].status value PiAPI reports once a video
// has been rendered.
const completedProgress = 99

// CameraControl mirrors the Kling camera_control object.
type CameraControl struct {
	Type   string       `json:"type"`
	Config CameraConfig `json:"config"`
}

// CameraConfig holds the simple camera movement axes.
type CameraConfig struct {
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
	Pan        float64 `json:"pan"`
	Tilt       float64 `json:"tilt"`
	Roll       float64 `json:"roll"`
	Zoom       float64 `json:"zoom"`
}

// SubmitOptions contains optional parameters for a video generation task.
type SubmitOptions struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Duration       int
	CfgScale       *float64
	Mode           string
	Model          string
	Camera         *CameraControl
}

// DefaultSubmitOptions returns the options PiAPI documents as defaults.
func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{
		AspectRatio: "1:1",
		Duration:    5,
		Mode:        "std",
		Model:       "kling",
	}
}

// taskRequest is the body of POST /api/v1/task.
type taskRequest struct {
	Model    string    `json:"model"`
	TaskType string    `json:"task_type"`
	Input    taskInput `json:"input"`
}

type taskInput struct {
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	ImageURL       string         `json:"image_url"`
	AspectRatio    string         `json:"aspect_ratio,omitempty"`
	Duration       int            `json:"duration,omitempty"`
	CfgScale       *float64       `json:"cfg_scale,omitempty"`
	Mode           string         `json:"mode,omitempty"`
	CameraControl  *CameraControl `json:"camera_control,omitempty"`
}

// envelope wraps every PiAPI response. Code is absent from some status
// bodies; Status and Output cover bodies that are not wrapped in data.
type envelope struct {
	Code    *int       `json:"code"`
	Message string     `json:"message"`
	Data    taskData   `json:"data"`
	Status  string     `json:"status"`
	Output  taskOutput `json:"output"`
}

// rejected reports an explicit non-OK code.
func (e envelope) rejected() bool {
	return e.Code != nil && *e.Code != codeOK
}

// task returns the task payload, falling back to unwrapped fields.
func (e envelope) task() taskData {
	d := e.Data
	if d.Status == "" {
		d.Status = e.Status
	}
	if d.Output.VideoURL == "" && d.Output.Status == 0 && len(d.Output.Works) == 0 {
		d.Output = e.Output
	}
	return d
}

type taskData struct {
	TaskID string     `json:"task_id"`
	Status string     `json:"status"`
	Output taskOutput `json:"output"`
	Error  taskError  `json:"error"`
}

type taskOutput struct {
	VideoURL string `json:"video_url"`
	Status   int    `json:"status"`
	Works    []work `json:"works"`
}

type work struct {
	Status int      `json:"status"`
	Video  resource `json:"video"`
}

type resource struct {
	Resource                 string `json:"resource"`
	ResourceWithoutWatermark string `json:"resource_without_watermark"`
}

type taskError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	RawMessage string `json:"raw_message"`
}

// SubmitResult is what a create-task call yielded. At most one of the fields
// is used by callers: a VideoURL wins over a TaskID.
type SubmitResult struct {
	TaskID   string
	VideoURL string
}

// PollResult contains the normalized result of a status query.
type PollResult struct {
	Status   Status
	VideoURL string // Preferred (unwatermarked when available) video URL
	Error    string // Failure reason (only set when Status is StatusFailed)
	Progress int    // output.status progress code, 0-99
}
