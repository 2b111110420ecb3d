// Package animation provides the Animation aggregate and the service that
// runs one product-card generation at a time on top of the generator client.
package animation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/cardmotion/internal/generator"
)

// Status represents the current state of an Animation.
type Status string

const (
	// StatusGenerating indicates the provider is working on the video.
	StatusGenerating Status = "GENERATING"
	// StatusReady indicates a video URL is available.
	StatusReady Status = "READY"
	// StatusFailed indicates the generation was rejected or failed.
	StatusFailed Status = "FAILED"
	// StatusTimedOut indicates the polling deadline passed.
	StatusTimedOut Status = "TIMED_OUT"
	// StatusCancelled indicates the user cancelled the generation.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("animation: invalid state transition")

var validTransitions = map[Status][]Status{
	StatusGenerating: {StatusReady, StatusFailed, StatusTimedOut, StatusCancelled},
	StatusReady:      {},
	StatusFailed:     {},
	StatusTimedOut:   {},
	StatusCancelled:  {},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// statusFor maps a terminal generator state onto an animation status.
var statusFor = map[generator.State]Status{
	generator.StateReady:     StatusReady,
	generator.StateFailed:    StatusFailed,
	generator.StateTimedOut:  StatusTimedOut,
	generator.StateCancelled: StatusCancelled,
}

// Animation is one product-card animation request and its result.
type Animation struct {
	mu sync.RWMutex

	ID       string
	Provider string
	Status   Status
	Prompt   string
	// ImageRef describes the input image for logs and API responses.
	ImageRef string
	// VideoURL is the provider's video URL.
	VideoURL string
	// ArchivedURL is the S3 copy, when archiving is enabled.
	ArchivedURL string
	// LocalPath is the downloaded video in temp storage, if any.
	LocalPath string
	Reason    string
	Failure   generator.FailureKind

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

// NewID returns a fresh animation identifier.
func NewID() string {
	return "anim-" + uuid.NewString()
}

// New creates a GENERATING animation with a generated ID.
func New(provider, prompt, imageRef string) *Animation {
	return NewWithID(NewID(), provider, prompt, imageRef)
}

// NewWithID creates a GENERATING animation with the given ID.
func NewWithID(id, provider, prompt, imageRef string) *Animation {
	now := time.Now()
	return &Animation{
		ID:        id,
		Provider:  provider,
		Status:    StatusGenerating,
		Prompt:    prompt,
		ImageRef:  imageRef,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo changes the status, or returns ErrInvalidTransition.
func (a *Animation) TransitionTo(status Status) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transitionLocked(status)
}

func (a *Animation) transitionLocked(status Status) error {
	if !canTransition(a.Status, status) {
		return ErrInvalidTransition
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	a.CompletedAt = a.UpdatedAt
	return nil
}

// Resolve records a terminal generator outcome.
func (a *Animation) Resolve(out generator.Outcome) error {
	status, ok := statusFor[out.State]
	if !ok {
		return ErrInvalidTransition
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.transitionLocked(status); err != nil {
		return err
	}
	a.VideoURL = out.VideoURL
	a.Failure = out.Failure
	if status != StatusReady {
		a.Reason = out.Reason
	}
	return nil
}

// SetArchive records where the video was copied to.
func (a *Animation) SetArchive(localPath, archivedURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.LocalPath = localPath
	a.ArchivedURL = archivedURL
	a.UpdatedAt = time.Now()
}

// GetStatus returns the current status (thread-safe).
func (a *Animation) GetStatus() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Status
}

// IsTerminal returns true if the animation will not change status again.
func (a *Animation) IsTerminal() bool {
	return a.GetStatus() != StatusGenerating
}

// Clone creates a copy of the animation for safe reads.
func (a *Animation) Clone() *Animation {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return &Animation{
		ID:          a.ID,
		Provider:    a.Provider,
		Status:      a.Status,
		Prompt:      a.Prompt,
		ImageRef:    a.ImageRef,
		VideoURL:    a.VideoURL,
		ArchivedURL: a.ArchivedURL,
		LocalPath:   a.LocalPath,
		Reason:      a.Reason,
		Failure:     a.Failure,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		CompletedAt: a.CompletedAt,
	}
}
