// Package generator provides the provider-independent image-to-video client:
// one submission, fixed-interval polling bounded by a deadline, and a single
// terminal Outcome. Provider adapters live alongside it.
package generator

import (
	"context"
	"errors"
	"time"

	"github.com/maauso/cardmotion/internal/encoder"
)

// ErrPreflight marks adapter errors raised before any network call, such as
// an image that cannot be encoded in the provider's scheme.
var ErrPreflight = errors.New("generator: preflight failed")

// State is the terminal state of a generation.
type State string

// Terminal states. Pending is never surfaced to callers.
const (
	StateReady     State = "READY"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
	StateCancelled State = "CANCELLED"
)

// IsTerminal returns true if the state is one of the four terminal states.
func (s State) IsTerminal() bool {
	switch s {
	case StateReady, StateFailed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// FailureKind classifies a FAILED outcome.
type FailureKind string

// Failure kinds.
const (
	FailurePreflight FailureKind = "preflight" // validation or encoding, no request sent
	FailureRejected  FailureKind = "rejected"  // non-2xx or envelope error on submit
	FailureMalformed FailureKind = "malformed" // response body had no usable shape
	FailureProvider  FailureKind = "provider"  // provider reported the job failed
	FailureTransport FailureKind = "transport" // submit request never got a response
)

// Outcome is the single terminal result of a generation.
type Outcome struct {
	State    State
	VideoURL string
	Reason   string
	Failure  FailureKind
}

// Ready builds a READY outcome.
func Ready(videoURL string) Outcome {
	return Outcome{State: StateReady, VideoURL: videoURL}
}

// Failed builds a FAILED outcome.
func Failed(kind FailureKind, reason string) Outcome {
	return Outcome{State: StateFailed, Failure: kind, Reason: reason}
}

// TimedOut builds a TIMED_OUT outcome.
func TimedOut() Outcome {
	return Outcome{State: StateTimedOut, Reason: "timed out waiting for video"}
}

// Cancelled builds a CANCELLED outcome.
func Cancelled() Outcome {
	return Outcome{State: StateCancelled, Reason: "cancelled"}
}

// CameraControl describes a simple camera movement. At most one axis
// should be non-zero.
type CameraControl struct {
	Type       string
	Horizontal float64
	Vertical   float64
	Pan        float64
	Tilt       float64
	Roll       float64
	Zoom       float64
}

// Options are the optional generation parameters shared by all providers.
// Zero values mean "provider default".
type Options struct {
	AspectRatio    string
	Duration       int
	CfgScale       *float64
	Mode           string
	NegativePrompt string
	Camera         *CameraControl
	Model          string
}

// Request is one generation request. It is never mutated by the client.
type Request struct {
	Image   encoder.Source
	Prompt  string
	Options Options
}

// Handle identifies a submitted job. ID is opaque and passed unmodified to
// every status query.
type Handle struct {
	ID          string
	SubmittedAt time.Time
}

// Submission is the result of Client.Submit. Handle is non-nil only when
// polling is required, in which case Outcome is the zero value.
type Submission struct {
	Outcome Outcome
	Handle  *Handle
}

// VerdictKind is the normalized reading of one status response.
type VerdictKind string

// Verdict kinds.
const (
	VerdictPending VerdictKind = "pending"
	VerdictReady   VerdictKind = "ready"
	VerdictFailed  VerdictKind = "failed"
)

// Verdict is a provider status response mapped into the common vocabulary.
type Verdict struct {
	Kind         VerdictKind
	VideoURL     string
	Reason       string
	RawStatus    string
	Unrecognized bool
}

// Encoding is the image transfer scheme a provider expects.
type Encoding string

// Encodings.
const (
	EncodingURL       Encoding = "url"
	EncodingBase64    Encoding = "base64"
	EncodingMultipart Encoding = "multipart"
)

// Accepted is what a successful submit response carried. Either field, both
// or neither may be set; the client applies the precedence.
type Accepted struct {
	VideoURL string
	JobID    string
}

// Provider defines the interface for image-to-video providers.
type Provider interface {
	// Name is the provider identifier used in logs and config.
	Name() string

	// Encoding reports the single image scheme the provider accepts.
	Encoding() Encoding

	// Submit sends exactly one create request.
	Submit(ctx context.Context, req Request) (Accepted, error)

	// Status performs one status query for jobID.
	Status(ctx context.Context, jobID string) (Verdict, error)
}

// withDefaults fills the zero fields of o from d.
func (o Options) withDefaults(d Options) Options {
	if o.AspectRatio == "" {
		o.AspectRatio = d.AspectRatio
	}
	if o.Duration == 0 {
		o.Duration = d.Duration
	}
	if o.CfgScale == nil {
		o.CfgScale = d.CfgScale
	}
	if o.Mode == "" {
		o.Mode = d.Mode
	}
	if o.NegativePrompt == "" {
		o.NegativePrompt = d.NegativePrompt
	}
	if o.Camera == nil {
		o.Camera = d.Camera
	}
	if o.Model == "" {
		o.Model = d.Model
	}
	return o
}
