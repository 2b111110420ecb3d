package animation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maauso/cardmotion/internal/encoder"
	"github.com/maauso/cardmotion/internal/generator"
	"github.com/maauso/cardmotion/internal/storage"
)

// Static errors for service operations.
var (
	// ErrBusy is returned when a generation is already running.
	ErrBusy = errors.New("animation: a generation is already in progress")
	// ErrPromptRequired is returned when the prompt is blank.
	ErrPromptRequired = errors.New("animation: prompt is required")
	// ErrImageRequired is returned when no image is given.
	ErrImageRequired = errors.New("animation: image is required")
	// ErrImageURLRequired is returned when the provider needs a hosted image
	// and there is nowhere to host an uploaded one.
	ErrImageURLRequired = errors.New("animation: provider needs an image URL and S3 is not configured")
	// ErrAlreadyFinished is returned when cancelling a terminal animation.
	ErrAlreadyFinished = errors.New("animation: already finished")
	// ErrNotReady is returned when the video of a non-ready animation is requested.
	ErrNotReady = errors.New("animation: video is not ready")
)

const (
	hostedRefPrefix       = "s3:"
	defaultImageURLTTL    = time.Hour
	defaultArchiveTimeout = 5 * time.Minute
)

// VideoGenerator runs one generation to a terminal outcome.
type VideoGenerator interface {
	Generate(ctx context.Context, req generator.Request) generator.Outcome
	ProviderName() string
	Encoding() generator.Encoding
}

// StartInput is what a caller supplies to start an animation.
type StartInput struct {
	Image   encoder.Source
	Prompt  string
	Options generator.Options
}

// run tracks the single in-flight generation.
type run struct {
	id     string
	cancel context.CancelFunc
}

// Service orchestrates animations: image hosting, generation, archiving.
type Service struct {
	repo    Repository
	gen     VideoGenerator
	store   storage.Storage
	fetcher *http.Client
	logger  *slog.Logger

	archive     bool
	imageURLTTL time.Duration

	mu     sync.Mutex
	active *run
	done   map[string]chan struct{}
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithArchive enables copying ready videos to S3.
func WithArchive(enabled bool) ServiceOption {
	return func(s *Service) {
		s.archive = enabled
	}
}

// WithFetcher sets the HTTP client used to download videos.
func WithFetcher(c *http.Client) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.fetcher = c
		}
	}
}

// WithImageURLTTL sets how long presigned input image URLs stay valid.
func WithImageURLTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.imageURLTTL = d
		}
	}
}

// NewService creates a new animation Service.
func NewService(repo Repository, gen VideoGenerator, store storage.Storage, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:        repo,
		gen:         gen,
		store:       store,
		fetcher:     &http.Client{Timeout: 2 * time.Minute},
		logger:      logger,
		imageURLTTL: defaultImageURLTTL,
		done:        make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProviderName returns the configured provider.
func (s *Service) ProviderName() string {
	return s.gen.ProviderName()
}

// Start creates an animation and generates it in the background. The
// generation outlives ctx; use Cancel to stop it.
func (s *Service) Start(ctx context.Context, in StartInput) (*Animation, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, ErrPromptRequired
	}
	if in.Image.IsZero() {
		return nil, ErrImageRequired
	}

	id := NewID()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.reserve(id, cancel); err != nil {
		cancel()
		return nil, err
	}

	image, ref, err := s.hostImage(ctx, id, in.Image)
	if err != nil {
		s.release(id)
		cancel()
		return nil, err
	}

	anim := NewWithID(id, s.gen.ProviderName(), prompt, ref)
	if err := s.repo.Save(ctx, anim); err != nil {
		s.release(id)
		cancel()
		return nil, fmt.Errorf("save animation: %w", err)
	}

	s.logger.Info("animation started",
		slog.String("animation_id", id),
		slog.String("provider", anim.Provider),
		slog.String("image", anim.ImageRef),
	)

	req := generator.Request{Image: image, Prompt: prompt, Options: in.Options}
	go s.generate(runCtx, cancel, anim, req)

	return anim.Clone(), nil
}

// Get returns an animation by ID.
func (s *Service) Get(ctx context.Context, id string) (*Animation, error) {
	return s.repo.FindByID(ctx, id)
}

// Cancel stops a running generation. The animation becomes CANCELLED once
// the generator observes the cancellation.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.active != nil && s.active.id == id {
		s.active.cancel()
		s.mu.Unlock()
		s.logger.Info("animation cancel requested", slog.String("animation_id", id))
		return nil
	}
	s.mu.Unlock()

	anim, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if anim.IsTerminal() {
		return ErrAlreadyFinished
	}
	return nil
}

// Wait blocks until the animation is terminal and any archive copy is
// recorded, or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (*Animation, error) {
	s.mu.Lock()
	done, ok := s.done[id]
	s.mu.Unlock()

	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.repo.FindByID(ctx, id)
}

// OpenVideo returns the video content of a ready animation, from the local
// copy when there is one and from the provider URL otherwise.
func (s *Service) OpenVideo(ctx context.Context, id string) (io.ReadCloser, error) {
	anim, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if anim.Status != StatusReady {
		return nil, ErrNotReady
	}

	if anim.LocalPath != "" {
		rc, err := s.store.OpenTemp(ctx, anim.LocalPath)
		if err == nil {
			return rc, nil
		}
		s.logger.Warn("local video copy unavailable, falling back to provider URL",
			slog.String("animation_id", id),
			slog.String("error", err.Error()),
		)
	}
	return s.download(ctx, anim.VideoURL)
}

func (s *Service) reserve(id string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return ErrBusy
	}
	s.active = &run{id: id, cancel: cancel}
	s.done[id] = make(chan struct{})
	return nil
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.id == id {
		s.active = nil
	}
	if ch, ok := s.done[id]; ok {
		close(ch)
		delete(s.done, id)
	}
}

// settle stores the terminal animation and frees the active slot in one
// step, so Cancel never sees a finished run as still cancellable.
func (s *Service) settle(ctx context.Context, anim *Animation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.repo.Save(ctx, anim)
	if s.active != nil && s.active.id == anim.ID {
		s.active = nil
	}
	return err
}

func (s *Service) generate(ctx context.Context, cancel context.CancelFunc, anim *Animation, req generator.Request) {
	defer cancel()
	defer s.release(anim.ID)

	log := s.logger.With(slog.String("animation_id", anim.ID))

	out := s.gen.Generate(ctx, req)
	if err := anim.Resolve(out); err != nil {
		log.Error("failed to record outcome", slog.String("state", string(out.State)), slog.String("error", err.Error()))
		return
	}

	// A late cancel must not abort saving or archiving a finished video.
	bg := context.WithoutCancel(ctx)
	if err := s.settle(bg, anim); err != nil {
		log.Error("failed to save animation", slog.String("error", err.Error()))
		return
	}

	if out.State == generator.StateReady && s.archive {
		actx, acancel := context.WithTimeout(bg, defaultArchiveTimeout)
		s.archiveVideo(actx, anim)
		acancel()
		if err := s.repo.Save(bg, anim); err != nil {
			log.Error("failed to save archived animation", slog.String("error", err.Error()))
			return
		}
	}

	log.Info("animation finished",
		slog.String("status", string(anim.GetStatus())),
		slog.String("video_url", out.VideoURL),
		slog.String("failure", string(out.Failure)),
		slog.String("reason", out.Reason),
	)
}

// hostImage uploads a local image when the provider only accepts URLs. It
// also returns a reference to the image that is safe to store and log.
func (s *Service) hostImage(ctx context.Context, id string, src encoder.Source) (encoder.Source, string, error) {
	if s.gen.Encoding() != generator.EncodingURL || src.Kind() == encoder.KindURL {
		return src, src.String(), nil
	}
	if !s.store.Remote() {
		return encoder.Source{}, "", ErrImageURLRequired
	}

	data, err := src.Bytes(ctx, s.fetcher)
	if err != nil {
		return encoder.Source{}, "", fmt.Errorf("read image: %w", err)
	}

	contentType := encoder.DetectMIME(data)
	key := "images/" + id + imageExt(src.Name(), contentType)
	if _, err := s.store.Upload(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		return encoder.Source{}, "", fmt.Errorf("host image: %w", err)
	}
	signed, err := s.store.PresignGet(ctx, key, s.imageURLTTL)
	if err != nil {
		return encoder.Source{}, "", fmt.Errorf("host image: %w", err)
	}

	s.logger.Info("input image hosted", slog.String("animation_id", id), slog.String("key", key))
	return encoder.FromURL(signed), hostedRefPrefix + key, nil
}

func (s *Service) archiveVideo(ctx context.Context, anim *Animation) {
	log := s.logger.With(slog.String("animation_id", anim.ID))

	body, err := s.download(ctx, anim.VideoURL)
	if err != nil {
		log.Warn("archive skipped: download failed", slog.String("error", err.Error()))
		return
	}
	path, err := s.store.SaveTemp(ctx, anim.ID+".mp4", body)
	_ = body.Close()
	if err != nil {
		log.Warn("archive skipped: save failed", slog.String("error", err.Error()))
		return
	}

	f, err := s.store.OpenTemp(ctx, path)
	if err != nil {
		log.Warn("archive skipped: reopen failed", slog.String("error", err.Error()))
		anim.SetArchive(path, "")
		return
	}
	defer func() { _ = f.Close() }()

	archived, err := s.store.Upload(ctx, "videos/"+anim.ID+".mp4", "video/mp4", f)
	if err != nil {
		log.Warn("archive upload failed", slog.String("error", err.Error()))
		anim.SetArchive(path, "")
		return
	}
	anim.SetArchive(path, archived)
	log.Info("video archived", slog.String("url", archived))
}

func (s *Service) download(ctx context.Context, videoURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := s.fetcher.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download video: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download video: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func imageExt(name, contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		return ext
	}
	return ".img"
}
