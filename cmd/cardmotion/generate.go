package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maauso/cardmotion/internal/animation"
	"github.com/maauso/cardmotion/internal/bootstrap"
	"github.com/maauso/cardmotion/internal/config"
	"github.com/maauso/cardmotion/internal/encoder"
	"github.com/maauso/cardmotion/internal/generator"
)

// errNotReady makes the process exit non-zero for every terminal state but READY.
var errNotReady = errors.New("generation did not produce a video")

type generateFlags struct {
	image       string
	imageURL    string
	prompt      string
	aspectRatio string
	duration    int
	mode        string
	output      string
}

func newGenerateCmd() *cobra.Command {
	var f generateFlags

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a video from a product image and a prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.image, "image", "", "path to a jpg or png image")
	cmd.Flags().StringVar(&f.imageURL, "image-url", "", "URL of a hosted jpg or png image")
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "motion description")
	cmd.Flags().StringVar(&f.aspectRatio, "aspect-ratio", "", "1:1, 16:9 or 9:16 (default from VIDEO_ASPECT_RATIO)")
	cmd.Flags().IntVar(&f.duration, "duration", 0, "video length in seconds, 5 or 10 (default from VIDEO_DURATION)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "std or pro (default from VIDEO_MODE)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write the video to this file")
	cmd.MarkFlagsMutuallyExclusive("image", "image-url")
	cmd.MarkFlagsOneRequired("image", "image-url")
	_ = cmd.MarkFlagRequired("prompt")

	return cmd
}

func runGenerate(cmd *cobra.Command, f generateFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	svc := deps.AnimationService

	image := encoder.FromFile(f.image)
	if f.imageURL != "" {
		if err := encoder.ValidateImageURL(f.imageURL); err != nil {
			return err
		}
		image = encoder.FromURL(f.imageURL)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	anim, err := svc.Start(ctx, animation.StartInput{
		Image:  image,
		Prompt: f.prompt,
		Options: generator.Options{
			AspectRatio: f.aspectRatio,
			Duration:    f.duration,
			Mode:        f.mode,
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "generating %s with %s...\n", anim.ID, anim.Provider)

	done, err := svc.Wait(ctx, anim.ID)
	if err != nil {
		// Interrupted: cancel and wait for the generator to settle.
		_ = svc.Cancel(context.Background(), anim.ID)
		done, err = svc.Wait(context.Background(), anim.ID)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status: %s\n", done.Status)
	if done.Status != animation.StatusReady {
		if done.Reason != "" {
			fmt.Fprintf(out, "reason: %s\n", done.Reason)
		}
		return errNotReady
	}
	fmt.Fprintf(out, "video: %s\n", done.VideoURL)
	if done.ArchivedURL != "" {
		fmt.Fprintf(out, "archived: %s\n", done.ArchivedURL)
	}

	if f.output == "" {
		return nil
	}
	if err := saveVideo(context.Background(), svc, done.ID, f.output); err != nil {
		return err
	}
	fmt.Fprintf(out, "saved: %s\n", f.output)
	return nil
}

func saveVideo(ctx context.Context, svc *animation.Service, id, path string) error {
	rc, err := svc.OpenVideo(ctx, id)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer func() { _ = rc.Close() }()

	f, err := os.Create(path) // #nosec G304 - path is supplied by the user
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}
