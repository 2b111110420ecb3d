// Package bootstrap wires configuration into the provider, generator,
// storage and animation service.
package bootstrap

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maauso/cardmotion/internal/animation"
	"github.com/maauso/cardmotion/internal/config"
	"github.com/maauso/cardmotion/internal/direct"
	"github.com/maauso/cardmotion/internal/generator"
	"github.com/maauso/cardmotion/internal/kling"
	"github.com/maauso/cardmotion/internal/piapi"
	"github.com/maauso/cardmotion/internal/storage"
)

// Dependencies holds all initialized dependencies for the binaries.
type Dependencies struct {
	Generator        *generator.Client
	AnimationService *animation.Service
	Storage          storage.Storage
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	gen, err := NewGenerator(cfg, logger)
	if err != nil {
		return nil, err
	}

	svc := animation.NewService(
		animation.NewMemoryRepository(),
		gen,
		store,
		logger,
		animation.WithArchive(cfg.ArchiveToS3),
	)

	return &Dependencies{
		Generator:        gen,
		AnimationService: svc,
		Storage:          store,
	}, nil
}

// NewGenerator builds the generator client for the configured provider.
func NewGenerator(cfg *config.Config, logger *slog.Logger) (*generator.Client, error) {
	poll := cfg.PollSettings()
	httpClient := &http.Client{Timeout: poll.RequestTimeout}

	provider, err := NewProvider(cfg, httpClient)
	if err != nil {
		return nil, err
	}

	logger.Info("video provider configured",
		slog.String("provider", provider.Name()),
		slog.String("encoding", string(provider.Encoding())),
		slog.Duration("deadline", poll.Deadline),
		slog.Duration("interval", poll.Interval),
	)

	return generator.NewClient(provider,
		generator.WithDeadline(poll.Deadline),
		generator.WithInterval(poll.Interval),
		generator.WithRequestTimeout(poll.RequestTimeout),
		generator.WithLogger(logger),
	), nil
}

// NewProvider creates the provider adapter selected by VIDEO_PROVIDER.
func NewProvider(cfg *config.Config, httpClient *http.Client) (generator.Provider, error) {
	defaults := generator.Options{
		AspectRatio: cfg.VideoAspectRatio,
		Duration:    cfg.VideoDuration,
		Mode:        cfg.VideoMode,
		Model:       cfg.VideoModel,
	}

	switch cfg.VideoProvider {
	case config.ProviderPiAPI:
		c, err := piapi.NewClient(cfg.VideoAPIKey,
			piapi.WithBaseURL(cfg.VideoBaseURL),
			piapi.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("create PiAPI client: %w", err)
		}
		return generator.NewPiAPIAdapter(c, defaults), nil

	case config.ProviderKling:
		opts := []kling.ClientOption{
			kling.WithBaseURL(cfg.VideoBaseURL),
			kling.WithHTTPClient(httpClient),
		}
		if cfg.VideoAPIKey != "" {
			opts = append(opts, kling.WithToken(cfg.VideoAPIKey))
		}
		if cfg.HasKlingKeys() {
			opts = append(opts, kling.WithAccessKeys(cfg.KlingAccessKey, cfg.KlingSecretKey))
		}
		c, err := kling.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("create Kling client: %w", err)
		}
		return generator.NewKlingAdapter(c, defaults).WithFetcher(httpClient), nil

	case config.ProviderDirect:
		c, err := direct.NewClient(cfg.VideoBaseURL, cfg.VideoAPIKey, direct.WithHTTPClient(httpClient))
		if err != nil {
			return nil, fmt.Errorf("create direct client: %w", err)
		}
		return generator.NewDirectAdapter(c, defaults).WithFetcher(httpClient), nil

	default:
		return nil, config.ErrUnknownProvider
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.Bool("archive", cfg.ArchiveToS3),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
