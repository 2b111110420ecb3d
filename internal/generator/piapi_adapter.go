package generator

import (
	"context"
	"fmt"

	"github.com/maauso/cardmotion/internal/piapi"
)

// PiAPIAdapter adapts the PiAPI client to the Provider interface.
// PiAPI only accepts images that are already hosted.
type PiAPIAdapter struct {
	client   piapi.Client
	defaults Options
}

// NewPiAPIAdapter creates a new PiAPI provider adapter. defaults fill any
// option a request leaves empty.
func NewPiAPIAdapter(client piapi.Client, defaults Options) *PiAPIAdapter {
	return &PiAPIAdapter{client: client, defaults: defaults}
}

// Name implements Provider.
func (a *PiAPIAdapter) Name() string { return "piapi" }

// Encoding implements Provider.
func (a *PiAPIAdapter) Encoding() Encoding { return EncodingURL }

// Submit sends a video_generation task for the hosted image.
func (a *PiAPIAdapter) Submit(ctx context.Context, req Request) (Accepted, error) {
	imageURL, err := req.Image.URL()
	if err != nil {
		return Accepted{}, fmt.Errorf("%w: %w", ErrPreflight, err)
	}

	o := req.Options.withDefaults(a.defaults)
	opts := piapi.SubmitOptions{
		Prompt:         req.Prompt,
		NegativePrompt: o.NegativePrompt,
		AspectRatio:    o.AspectRatio,
		Duration:       o.Duration,
		CfgScale:       o.CfgScale,
		Mode:           o.Mode,
		Model:          o.Model,
	}
	if cam := o.Camera; cam != nil {
		opts.Camera = &piapi.CameraControl{
			Type: cam.Type,
			Config: piapi.CameraConfig{
				Horizontal: cam.Horizontal,
				Vertical:   cam.Vertical,
				Pan:        cam.Pan,
				Tilt:       cam.Tilt,
				Roll:       cam.Roll,
				Zoom:       cam.Zoom,
			},
		}
	}

	res, err := a.client.Submit(ctx, imageURL, opts)
	if err != nil {
		return Accepted{}, fmt.Errorf("piapi adapter submit: %w", err)
	}
	return Accepted{VideoURL: res.VideoURL, JobID: res.TaskID}, nil
}

// Status checks a PiAPI task and maps it to a Verdict.
func (a *PiAPIAdapter) Status(ctx context.Context, jobID string) (Verdict, error) {
	res, err := a.client.Poll(ctx, jobID)
	if err != nil {
		return Verdict{}, fmt.Errorf("piapi adapter poll: %w", err)
	}

	v := Verdict{RawStatus: string(res.Status)}
	switch res.Status {
	case piapi.StatusCompleted:
		v.Kind = VerdictReady
		v.VideoURL = res.VideoURL
	case piapi.StatusFailed:
		v.Kind = VerdictFailed
		v.Reason = res.Error
	case piapi.StatusPending, piapi.StatusStaged, piapi.StatusProcessing:
		v.Kind = VerdictPending
	default:
		v.Kind = VerdictPending
		v.Unrecognized = true
	}
	return v, nil
}

// Compile-time check that PiAPIAdapter implements Provider.
var _ Provider = (*PiAPIAdapter)(nil)
