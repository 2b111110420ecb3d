package generator

import (
	"context"
	"fmt"
	"net/http"

	"github.com/maauso/cardmotion/internal/direct"
	"github.com/maauso/cardmotion/internal/encoder"
)

// DirectAdapter adapts the direct multipart client to the Provider interface.
type DirectAdapter struct {
	client   direct.Client
	defaults Options
	fetcher  *http.Client
}

// NewDirectAdapter creates a new direct provider adapter.
func NewDirectAdapter(client direct.Client, defaults Options) *DirectAdapter {
	return &DirectAdapter{client: client, defaults: defaults}
}

// WithFetcher sets the HTTP client used to download hosted images before
// uploading them.
func (a *DirectAdapter) WithFetcher(c *http.Client) *DirectAdapter {
	a.fetcher = c
	return a
}

// Name implements Provider.
func (a *DirectAdapter) Name() string { return "direct" }

// Encoding implements Provider.
func (a *DirectAdapter) Encoding() Encoding { return EncodingMultipart }

// Submit uploads the raw image bytes with the prompt as form fields.
func (a *DirectAdapter) Submit(ctx context.Context, req Request) (Accepted, error) {
	// Read once up front so encoding problems surface as preflight failures.
	data, err := req.Image.Bytes(ctx, a.fetcher)
	if err != nil {
		return Accepted{}, fmt.Errorf("%w: %w", ErrPreflight, err)
	}

	o := req.Options.withDefaults(a.defaults)
	opts := direct.SubmitOptions{
		Prompt:         req.Prompt,
		NegativePrompt: o.NegativePrompt,
		AspectRatio:    o.AspectRatio,
		Duration:       o.Duration,
		CfgScale:       o.CfgScale,
		Mode:           o.Mode,
	}

	res, err := a.client.Submit(ctx, encoder.FromBytes(req.Image.Name(), data), opts)
	if err != nil {
		return Accepted{}, fmt.Errorf("direct adapter submit: %w", err)
	}
	return Accepted{VideoURL: res.VideoURL, JobID: res.JobID}, nil
}

// Status checks a direct job and maps it to a Verdict.
func (a *DirectAdapter) Status(ctx context.Context, jobID string) (Verdict, error) {
	res, err := a.client.Poll(ctx, jobID)
	if err != nil {
		return Verdict{}, fmt.Errorf("direct adapter poll: %w", err)
	}

	v := Verdict{RawStatus: string(res.Status)}
	switch res.Status {
	case direct.StatusCompleted:
		v.Kind = VerdictReady
		v.VideoURL = res.VideoURL
	case direct.StatusFailed:
		v.Kind = VerdictFailed
		v.Reason = res.Error
	case direct.StatusPending, direct.StatusProcessing:
		v.Kind = VerdictPending
	default:
		v.Kind = VerdictPending
		v.Unrecognized = true
	}
	return v, nil
}

// Compile-time check that DirectAdapter implements Provider.
var _ Provider = (*DirectAdapter)(nil)
