package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/cardmotion/internal/animation"
	"github.com/maauso/cardmotion/internal/encoder"
	"github.com/maauso/cardmotion/internal/generator"
)

const (
	defaultMaxUploadBytes = 10 << 20
	videoFilename         = "animated-product-card.mp4"
)

// AnimationService is the subset of animation.Service the handlers use.
type AnimationService interface {
	Start(ctx context.Context, in animation.StartInput) (*animation.Animation, error)
	Get(ctx context.Context, id string) (*animation.Animation, error)
	Cancel(ctx context.Context, id string) error
	OpenVideo(ctx context.Context, id string) (io.ReadCloser, error)
	ProviderName() string
}

// Compile-time check that animation.Service satisfies AnimationService.
var _ AnimationService = (*animation.Service)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        AnimationService
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes caps the size of POST /animations bodies.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service AnimationService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Provider: h.service.ProviderName()})
}

// Suggestions handles GET /prompts/suggestions requests.
func (h *Handlers) Suggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SuggestionsResponse{Prompts: animation.Suggestions()})
}

// CreateAnimation handles POST /animations requests. The body is either JSON
// or multipart/form-data with an "image" file.
func (h *Handlers) CreateAnimation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	var (
		input animation.StartInput
		ok    bool
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		input, ok = h.decodeMultipart(w, r)
	} else {
		input, ok = h.decodeJSON(w, r)
	}
	if !ok {
		return
	}

	anim, err := h.service.Start(r.Context(), input)
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	h.logger.Info("animation accepted",
		slog.String("animation_id", anim.ID),
		slog.String("image", input.Image.String()),
	)

	writeJSON(w, http.StatusAccepted, AnimationResponse{
		ID:       anim.ID,
		Status:   string(anim.Status),
		Provider: anim.Provider,
	})
}

// GetAnimation handles GET /animations/{id} requests.
func (h *Handlers) GetAnimation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "animation ID is required", "MISSING_ANIMATION_ID")
		return
	}

	anim, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(anim))
}

// CancelAnimation handles DELETE /animations/{id} requests.
func (h *Handlers) CancelAnimation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "animation ID is required", "MISSING_ANIMATION_ID")
		return
	}

	if err := h.service.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, animation.ErrAlreadyFinished) {
			writeError(w, http.StatusConflict, "animation already finished", "ALREADY_FINISHED")
			return
		}
		h.writeLookupError(w, id, err)
		return
	}

	writeJSON(w, http.StatusAccepted, AnimationResponse{ID: id, Status: "CANCELLING"})
}

// GetVideo handles GET /animations/{id}/video requests.
func (h *Handlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "animation ID is required", "MISSING_ANIMATION_ID")
		return
	}

	rc, err := h.service.OpenVideo(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, animation.ErrNotReady):
			writeError(w, http.StatusConflict, "video is not ready", "NOT_READY")
		case errors.Is(err, animation.ErrNotFound):
			writeError(w, http.StatusNotFound, "animation not found", "NOT_FOUND")
		default:
			h.logger.Error("failed to open video",
				slog.String("animation_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway, "video is unavailable", "VIDEO_UNAVAILABLE")
		}
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", videoFilename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("video stream interrupted",
			slog.String("animation_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request) (animation.StartInput, bool) {
	var req CreateAnimationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "PAYLOAD_TOO_LARGE")
			return animation.StartInput{}, false
		}
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return animation.StartInput{}, false
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return animation.StartInput{}, false
	}

	var image encoder.Source
	if req.ImageURL != "" {
		if err := encoder.ValidateImageURL(req.ImageURL); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return animation.StartInput{}, false
		}
		image = encoder.FromURL(req.ImageURL)
	} else {
		image = encoder.FromBase64(req.ImageBase64)
	}

	return animation.StartInput{
		Image:   image,
		Prompt:  req.Prompt,
		Options: toOptions(req.AnimationOptions),
	}, true
}

func (h *Handlers) decodeMultipart(w http.ResponseWriter, r *http.Request) (animation.StartInput, bool) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "PAYLOAD_TOO_LARGE")
			return animation.StartInput{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return animation.StartInput{}, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required", "VALIDATION_ERROR")
		return animation.StartInput{}, false
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image file", "INVALID_FORM")
		return animation.StartInput{}, false
	}

	opts, err := formOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return animation.StartInput{}, false
	}

	prompt := r.FormValue("prompt")
	if err := h.validator.Var(prompt, "required,max=2500"); err != nil {
		writeError(w, http.StatusBadRequest, "prompt is required", "VALIDATION_ERROR")
		return animation.StartInput{}, false
	}
	if err := h.validator.Struct(opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return animation.StartInput{}, false
	}

	return animation.StartInput{
		Image:   encoder.FromBytes(header.Filename, data),
		Prompt:  prompt,
		Options: toOptions(opts),
	}, true
}

// formOptions reads AnimationOptions from form fields. camera is a JSON object.
func formOptions(r *http.Request) (AnimationOptions, error) {
	opts := AnimationOptions{
		AspectRatio:    r.FormValue("aspect_ratio"),
		Mode:           r.FormValue("mode"),
		NegativePrompt: r.FormValue("negative_prompt"),
	}
	if v := r.FormValue("duration"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("invalid duration %q", v)
		}
		opts.Duration = d
	}
	if v := r.FormValue("cfg_scale"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid cfg_scale %q", v)
		}
		opts.CfgScale = &f
	}
	if v := strings.TrimSpace(r.FormValue("camera")); v != "" {
		var cam CameraRequest
		if err := json.Unmarshal([]byte(v), &cam); err != nil {
			return opts, fmt.Errorf("invalid camera: %w", err)
		}
		opts.Camera = &cam
	}
	return opts, nil
}

func (h *Handlers) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, animation.ErrBusy):
		writeError(w, http.StatusConflict, "a generation is already in progress", "BUSY")
	case errors.Is(err, animation.ErrPromptRequired),
		errors.Is(err, animation.ErrImageRequired),
		errors.Is(err, animation.ErrImageURLRequired),
		errors.Is(err, encoder.ErrNotImage),
		errors.Is(err, encoder.ErrEmptySource),
		errors.Is(err, encoder.ErrTooLarge):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	default:
		h.logger.Error("failed to start animation",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start animation", "ANIMATION_START_FAILED")
	}
}

func (h *Handlers) writeLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, animation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "animation not found", "NOT_FOUND")
		return
	}
	h.logger.Error("failed to get animation",
		slog.String("animation_id", id),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to get animation", "ANIMATION_FETCH_FAILED")
}

func toOptions(o AnimationOptions) generator.Options {
	opts := generator.Options{
		AspectRatio:    o.AspectRatio,
		Duration:       o.Duration,
		CfgScale:       o.CfgScale,
		Mode:           o.Mode,
		NegativePrompt: o.NegativePrompt,
	}
	if o.Camera != nil {
		opts.Camera = &generator.CameraControl{
			Type:       o.Camera.Type,
			Horizontal: o.Camera.Horizontal,
			Vertical:   o.Camera.Vertical,
			Pan:        o.Camera.Pan,
			Tilt:       o.Camera.Tilt,
			Roll:       o.Camera.Roll,
			Zoom:       o.Camera.Zoom,
		}
	}
	return opts
}

func toResponse(a *animation.Animation) AnimationResponse {
	return AnimationResponse{
		ID:          a.ID,
		Status:      string(a.Status),
		Provider:    a.Provider,
		Prompt:      a.Prompt,
		VideoURL:    a.VideoURL,
		ArchivedURL: a.ArchivedURL,
		Error:       a.Reason,
		Failure:     string(a.Failure),
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
