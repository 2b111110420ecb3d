package generator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/maauso/cardmotion/internal/transport"
)

// Default timing. The deadline is measured from Handle.SubmittedAt.
const (
	DefaultDeadline       = 240 * time.Second
	DefaultInterval       = 3 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// Clock abstracts time so the poll loop can be driven by tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, in which case it returns ctx.Err().
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client drives one provider through submit and poll.
type Client struct {
	provider       Provider
	deadline       time.Duration
	interval       time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger
	clock          Clock
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithDeadline sets the overall polling budget.
func WithDeadline(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.deadline = d
		}
	}
}

// WithInterval sets the fixed delay between status queries.
func WithInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithRequestTimeout bounds each individual HTTP request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clk Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// NewClient creates a Client for provider p.
func NewClient(p Provider, opts ...Option) *Client {
	c := &Client{
		provider:       p,
		deadline:       DefaultDeadline,
		interval:       DefaultInterval,
		requestTimeout: DefaultRequestTimeout,
		logger:         slog.Default(),
		clock:          realClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProviderName returns the name of the provider the client drives.
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Encoding returns the image scheme of the provider the client drives.
func (c *Client) Encoding() Encoding {
	return c.provider.Encoding()
}

// Generate submits req and, if the provider answered with a job id, polls it
// to a terminal Outcome.
func (c *Client) Generate(ctx context.Context, req Request) Outcome {
	sub := c.Submit(ctx, req)
	if sub.Handle == nil {
		return sub.Outcome
	}
	return c.Poll(ctx, *sub.Handle)
}

// Submit validates req and issues exactly one create request. It never retries.
func (c *Client) Submit(ctx context.Context, req Request) Submission {
	log := c.logger.With(slog.String("provider", c.provider.Name()))

	if strings.TrimSpace(req.Prompt) == "" {
		return Submission{Outcome: Failed(FailurePreflight, "prompt is required")}
	}
	if req.Image.IsZero() {
		return Submission{Outcome: Failed(FailurePreflight, "image is required")}
	}
	if ctx.Err() != nil {
		return Submission{Outcome: Cancelled()}
	}

	log.Info("submitting generation",
		slog.String("image", req.Image.String()),
		slog.String("encoding", string(c.provider.Encoding())),
	)

	rctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	acc, err := c.provider.Submit(rctx, req)
	if err != nil {
		out := submitFailure(ctx, err)
		log.Warn("submission did not start a job",
			slog.String("state", string(out.State)),
			slog.String("failure", string(out.Failure)),
			slog.String("error", err.Error()),
		)
		return Submission{Outcome: out}
	}

	switch {
	case acc.VideoURL != "":
		log.Info("video returned on submit", slog.String("video_url", acc.VideoURL))
		return Submission{Outcome: Ready(acc.VideoURL)}
	case acc.JobID != "":
		log.Info("job submitted", slog.String("job_id", acc.JobID))
		return Submission{Handle: &Handle{ID: acc.JobID, SubmittedAt: c.clock.Now()}}
	default:
		log.Warn("submit response had neither video URL nor job id")
		return Submission{Outcome: Failed(FailureMalformed, "unexpected response shape")}
	}
}

// Poll queries the provider every interval until the job reaches a terminal
// state, the deadline passes or ctx is cancelled.
func (c *Client) Poll(ctx context.Context, h Handle) Outcome {
	log := c.logger.With(
		slog.String("provider", c.provider.Name()),
		slog.String("job_id", h.ID),
	)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			log.Info("polling cancelled")
			return Cancelled()
		}
		remaining := c.remaining(h)
		if remaining <= 0 {
			log.Warn("deadline reached", slog.Duration("deadline", c.deadline))
			return TimedOut()
		}

		if err := c.clock.Sleep(ctx, min(c.interval, remaining)); err != nil {
			log.Info("polling cancelled")
			return Cancelled()
		}
		remaining = c.remaining(h)
		if remaining <= 0 {
			log.Warn("deadline reached", slog.Duration("deadline", c.deadline))
			return TimedOut()
		}

		v, err := c.status(ctx, h.ID, min(c.requestTimeout, remaining))
		if err != nil {
			if ctx.Err() != nil {
				log.Info("polling cancelled")
				return Cancelled()
			}
			log.Warn("status query failed, will retry",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch v.Kind {
		case VerdictReady:
			if v.VideoURL == "" {
				log.Warn("provider reported completion without a video URL", slog.String("status", v.RawStatus))
				return Failed(FailureMalformed, "completed without a video URL")
			}
			log.Info("video ready", slog.Int("attempt", attempt), slog.String("video_url", v.VideoURL))
			return Ready(v.VideoURL)
		case VerdictFailed:
			log.Warn("provider reported failure", slog.String("reason", v.Reason))
			return Failed(FailureProvider, v.Reason)
		default:
			if v.Unrecognized {
				log.Warn("unrecognized status, still waiting", slog.String("status", v.RawStatus))
			} else {
				log.Debug("still pending", slog.Int("attempt", attempt), slog.String("status", v.RawStatus))
			}
		}
	}
}

func (c *Client) remaining(h Handle) time.Duration {
	return c.deadline - c.clock.Now().Sub(h.SubmittedAt)
}

func (c *Client) status(ctx context.Context, id string, timeout time.Duration) (Verdict, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.provider.Status(rctx, id)
}

// submitFailure maps an adapter error to a terminal Outcome. A cancelled
// parent context wins over whatever error the aborted request produced.
func submitFailure(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		return Cancelled()
	}
	if errors.Is(err, ErrPreflight) {
		return Failed(FailurePreflight, err.Error())
	}
	if se, ok := transport.AsStatusError(err); ok {
		return Failed(FailureRejected, se.Error())
	}
	var env *transport.EnvelopeError
	if errors.As(err, &env) {
		return Failed(FailureRejected, env.Message)
	}
	if errors.Is(err, transport.ErrMalformedBody) {
		return Failed(FailureMalformed, err.Error())
	}
	return Failed(FailureTransport, err.Error())
}
