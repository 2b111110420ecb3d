// Package direct provides an HTTP client for a self-hosted image-to-video
// endpoint that accepts the image as a multipart upload and answers with a
// flat JSON object.
package direct

// Status represents the status of a direct job.
type Status string

// Direct job statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// imageField is the multipart field carrying the raw image.
const imageField = "image"

// SubmitOptions are sent as plain form fields next to the image part.
type SubmitOptions struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Duration       int
	CfgScale       *float64
	Mode           string
}

// response is the flat body returned by both the submit and status calls.
type response struct {
	VideoURL string `json:"videoUrl"`
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	Error    string `json:"error"`
}

// SubmitResult is what a submit call yielded.
type SubmitResult struct {
	JobID    string
	VideoURL string
}

// PollResult contains the normalized result of a status query.
type PollResult struct {
	Status   Status
	VideoURL string
	Error    string
}
