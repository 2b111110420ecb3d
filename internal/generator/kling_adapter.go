package generator

import (
	"context"
	"fmt"
	"net/http"

	"github.com/maauso/cardmotion/internal/kling"
)

// KlingAdapter adapts the official Kling client to the Provider interface.
// The image travels inline as base64.
type KlingAdapter struct {
	client   kling.Client
	defaults Options
	fetcher  *http.Client
}

// NewKlingAdapter creates a new Kling provider adapter.
func NewKlingAdapter(client kling.Client, defaults Options) *KlingAdapter {
	return &KlingAdapter{client: client, defaults: defaults}
}

// WithFetcher sets the HTTP client used to download hosted images before
// encoding them.
func (a *KlingAdapter) WithFetcher(c *http.Client) *KlingAdapter {
	a.fetcher = c
	return a
}

// Name implements Provider.
func (a *KlingAdapter) Name() string { return "kling" }

// Encoding implements Provider.
func (a *KlingAdapter) Encoding() Encoding { return EncodingBase64 }

// Submit sends an image2video task with the image embedded as base64.
func (a *KlingAdapter) Submit(ctx context.Context, req Request) (Accepted, error) {
	imageB64, err := req.Image.Base64(ctx, a.fetcher)
	if err != nil {
		return Accepted{}, fmt.Errorf("%w: %w", ErrPreflight, err)
	}

	o := req.Options.withDefaults(a.defaults)
	opts := kling.SubmitOptions{
		Prompt:         req.Prompt,
		NegativePrompt: o.NegativePrompt,
		ModelName:      klingModel(o.Model),
		Mode:           o.Mode,
		Duration:       o.Duration,
		AspectRatio:    o.AspectRatio,
		CfgScale:       o.CfgScale,
	}
	if cam := o.Camera; cam != nil {
		opts.Camera = &kling.CameraControl{
			Type: cam.Type,
			Config: &kling.CameraConfig{
				Horizontal: cam.Horizontal,
				Vertical:   cam.Vertical,
				Pan:        cam.Pan,
				Tilt:       cam.Tilt,
				Roll:       cam.Roll,
				Zoom:       cam.Zoom,
			},
		}
	}

	res, err := a.client.Submit(ctx, imageB64, opts)
	if err != nil {
		return Accepted{}, fmt.Errorf("kling adapter submit: %w", err)
	}
	return Accepted{VideoURL: res.VideoURL, JobID: res.TaskID}, nil
}

// Status checks a Kling task and maps it to a Verdict.
func (a *KlingAdapter) Status(ctx context.Context, jobID string) (Verdict, error) {
	res, err := a.client.Poll(ctx, jobID)
	if err != nil {
		return Verdict{}, fmt.Errorf("kling adapter poll: %w", err)
	}

	v := Verdict{RawStatus: string(res.Status)}
	switch res.Status {
	case kling.StatusSucceed:
		v.Kind = VerdictReady
		v.VideoURL = res.VideoURL
	case kling.StatusFailed:
		v.Kind = VerdictFailed
		v.Reason = res.Error
	case kling.StatusSubmitted, kling.StatusProcessing:
		v.Kind = VerdictPending
	default:
		v.Kind = VerdictPending
		v.Unrecognized = true
	}
	return v, nil
}

// klingModel maps the PiAPI-style model family name onto a Kling model name.
func klingModel(model string) string {
	if model == "" || model == "kling" {
		return ""
	}
	return model
}

// Compile-time check that KlingAdapter implements Provider.
var _ Provider = (*KlingAdapter)(nil)
