package animation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maauso/cardmotion/internal/encoder"
	"github.com/maauso/cardmotion/internal/generator"
	"github.com/maauso/cardmotion/internal/storage"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0x00, 0xff, 0x10, 0x7f)

// fakeGenerator returns outcome once release is closed, or Cancelled when
// ctx is done first. A nil release returns immediately.
type fakeGenerator struct {
	encoding generator.Encoding
	outcome  generator.Outcome
	release  chan struct{}

	mu   sync.Mutex
	reqs []generator.Request
}

func (g *fakeGenerator) Generate(ctx context.Context, req generator.Request) generator.Outcome {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()

	if g.release == nil {
		return g.outcome
	}
	select {
	case <-g.release:
		return g.outcome
	case <-ctx.Done():
		return generator.Cancelled()
	}
}

func (g *fakeGenerator) ProviderName() string { return "fake" }

func (g *fakeGenerator) Encoding() generator.Encoding { return g.encoding }

func (g *fakeGenerator) requests() []generator.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]generator.Request(nil), g.reqs...)
}

// remoteStore is local temp storage that pretends to be S3.
type remoteStore struct {
	*storage.LocalStorage

	mu      sync.Mutex
	uploads map[string][]byte
	types   map[string]string
}

func newRemoteStore(t *testing.T) *remoteStore {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &remoteStore{LocalStorage: local, uploads: map[string][]byte{}, types: map[string]string{}}
}

func (s *remoteStore) Upload(_ context.Context, key, contentType string, data io.Reader) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[key] = b
	s.types[key] = contentType
	return "https://bucket.example.com/" + key, nil
}

func (s *remoteStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.example.com/" + key + "?sig=1", nil
}

func (s *remoteStore) Remote() bool { return true }

func newLocalStore(t *testing.T) *storage.LocalStorage {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return local
}

func waitTerminal(t *testing.T, svc *Service, id string) *Animation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := svc.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return a
}

func TestService_Start_Validation(t *testing.T) {
	svc := NewService(NewMemoryRepository(), &fakeGenerator{}, newLocalStore(t), nil)
	ctx := context.Background()

	_, err := svc.Start(ctx, StartInput{Image: encoder.FromURL("https://x/a.png"), Prompt: "   "})
	if err != ErrPromptRequired {
		t.Errorf("expected ErrPromptRequired, got %v", err)
	}

	_, err = svc.Start(ctx, StartInput{Prompt: "rotate"})
	if err != ErrImageRequired {
		t.Errorf("expected ErrImageRequired, got %v", err)
	}
}

func TestService_Start_Ready(t *testing.T) {
	gen := &fakeGenerator{encoding: generator.EncodingURL, outcome: generator.Ready("https://v/1.mp4")}
	svc := NewService(NewMemoryRepository(), gen, newLocalStore(t), nil)

	a, err := svc.Start(context.Background(), StartInput{
		Image:  encoder.FromURL("https://cdn.example.com/card.png"),
		Prompt: "  rotate  ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusGenerating {
		t.Errorf("expected GENERATING, got %s", a.Status)
	}
	if a.Provider != "fake" {
		t.Errorf("expected provider fake, got %s", a.Provider)
	}

	done := waitTerminal(t, svc, a.ID)
	if done.Status != StatusReady {
		t.Errorf("expected READY, got %s", done.Status)
	}
	if done.VideoURL != "https://v/1.mp4" {
		t.Errorf("unexpected video URL %s", done.VideoURL)
	}

	reqs := gen.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 generate call, got %d", len(reqs))
	}
	if reqs[0].Prompt != "rotate" {
		t.Errorf("expected trimmed prompt, got %q", reqs[0].Prompt)
	}
}

func TestService_Start_StartContextCancelDoesNotStopGeneration(t *testing.T) {
	gen := &fakeGenerator{encoding: generator.EncodingBase64, outcome: generator.Ready("https://v/1.mp4"), release: make(chan struct{})}
	svc := NewService(NewMemoryRepository(), gen, newLocalStore(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	a, err := svc.Start(ctx, StartInput{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "rotate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()
	close(gen.release)

	if got := waitTerminal(t, svc, a.ID); got.Status != StatusReady {
		t.Errorf("expected READY, got %s", got.Status)
	}
}

func TestService_Busy_ThenCancel(t *testing.T) {
	gen := &fakeGenerator{encoding: generator.EncodingBase64, release: make(chan struct{})}
	svc := NewService(NewMemoryRepository(), gen, newLocalStore(t), nil)
	ctx := context.Background()
	in := StartInput{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "rotate"}

	first, err := svc.Start(ctx, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Start(ctx, in); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	if err := svc.Cancel(ctx, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	done := waitTerminal(t, svc, first.ID)
	if done.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", done.Status)
	}

	if err := svc.Cancel(ctx, first.ID); err != ErrAlreadyFinished {
		t.Errorf("expected ErrAlreadyFinished, got %v", err)
	}

	gen.release = nil
	gen.outcome = generator.Failed(generator.FailureProvider, "nsfw")
	second, err := svc.Start(ctx, in)
	if err != nil {
		t.Fatalf("expected slot to be free, got %v", err)
	}
	if got := waitTerminal(t, svc, second.ID); got.Status != StatusFailed || got.Reason != "nsfw" {
		t.Errorf("expected FAILED nsfw, got %s %q", got.Status, got.Reason)
	}
}

func TestService_Cancel_NotFound(t *testing.T) {
	svc := NewService(NewMemoryRepository(), &fakeGenerator{}, newLocalStore(t), nil)

	if err := svc.Cancel(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_URLProvider_NoRemoteStorage(t *testing.T) {
	gen := &fakeGenerator{encoding: generator.EncodingURL, outcome: generator.Ready("https://v/1.mp4")}
	svc := NewService(NewMemoryRepository(), gen, newLocalStore(t), nil)
	ctx := context.Background()

	_, err := svc.Start(ctx, StartInput{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "rotate"})
	if err != ErrImageURLRequired {
		t.Fatalf("expected ErrImageURLRequired, got %v", err)
	}

	// The slot is released on failure.
	a, err := svc.Start(ctx, StartInput{Image: encoder.FromURL("https://x/card.png"), Prompt: "rotate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitTerminal(t, svc, a.ID)
}

func TestService_URLProvider_HostsImage(t *testing.T) {
	gen := &fakeGenerator{encoding: generator.EncodingURL, outcome: generator.Ready("https://v/1.mp4")}
	store := newRemoteStore(t)
	svc := NewService(NewMemoryRepository(), gen, store, nil)

	a, err := svc.Start(context.Background(), StartInput{Image: encoder.FromBytes("card.PNG", pngBytes), Prompt: "rotate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitTerminal(t, svc, a.ID)

	key := "images/" + a.ID + ".png"
	if !bytes.Equal(store.uploads[key], pngBytes) {
		t.Errorf("expected image uploaded at %s, got keys %v", key, store.uploads)
	}
	if store.types[key] != "image/png" {
		t.Errorf("expected image/png, got %s", store.types[key])
	}

	reqs := gen.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 generate call, got %d", len(reqs))
	}
	u, err := reqs[0].Image.URL()
	if err != nil {
		t.Fatalf("expected hosted image: %v", err)
	}
	if u != "https://bucket.example.com/"+key+"?sig=1" {
		t.Errorf("unexpected image URL %s", u)
	}

	stored, err := svc.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.ImageRef != "s3:"+key {
		t.Errorf("expected image ref s3:%s, got %s", key, stored.ImageRef)
	}
	if strings.Contains(a.ImageRef, "sig=") || strings.Contains(stored.ImageRef, "sig=") {
		t.Errorf("image ref leaks the presigned URL: %s", stored.ImageRef)
	}
}

func TestService_NonURLProvider_SkipsHosting(t *testing.T) {
	gen := &fakeGenerator{encoding: generator.EncodingMultipart, outcome: generator.Ready("https://v/1.mp4")}
	store := newRemoteStore(t)
	svc := NewService(NewMemoryRepository(), gen, store, nil)

	a, err := svc.Start(context.Background(), StartInput{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "rotate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitTerminal(t, svc, a.ID)

	if len(store.uploads) != 0 {
		t.Errorf("expected no uploads, got %v", store.uploads)
	}
	if gen.requests()[0].Image.Kind() != encoder.KindBytes {
		t.Error("expected the original image to reach the generator")
	}
}

func TestService_ArchiveAndOpenVideo(t *testing.T) {
	video := []byte("fake mp4 content")
	var downloads int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		downloads++
		mu.Unlock()
		_, _ = w.Write(video)
	}))
	defer srv.Close()

	gen := &fakeGenerator{encoding: generator.EncodingBase64, outcome: generator.Ready(srv.URL + "/v.mp4")}
	store := newRemoteStore(t)
	svc := NewService(NewMemoryRepository(), gen, store, nil, WithArchive(true), WithFetcher(srv.Client()))

	a, err := svc.Start(context.Background(), StartInput{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "rotate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := waitTerminal(t, svc, a.ID)

	if done.ArchivedURL != "https://bucket.example.com/videos/"+a.ID+".mp4" {
		t.Errorf("unexpected archived URL %s", done.ArchivedURL)
	}
	if done.LocalPath == "" {
		t.Error("expected local path to be set")
	}
	if !bytes.Equal(store.uploads["videos/"+a.ID+".mp4"], video) {
		t.Error("expected archived video content")
	}
	if store.types["videos/"+a.ID+".mp4"] != "video/mp4" {
		t.Error("expected video/mp4 content type")
	}

	rc, err := svc.OpenVideo(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("open video: %v", err)
	}
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(got, video) {
		t.Errorf("unexpected video content %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if downloads != 1 {
		t.Errorf("expected the local copy to be served, got %d downloads", downloads)
	}
}

func TestService_ReadyVisibleWhileArchiving(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-unblock
		_, _ = w.Write([]byte("fake mp4 content"))
	}))
	defer srv.Close()
	var unblockOnce sync.Once
	release := func() { unblockOnce.Do(func() { close(unblock) }) }
	defer release()

	gen := &fakeGenerator{encoding: generator.EncodingBase64, outcome: generator.Ready(srv.URL + "/v.mp4")}
	svc := NewService(NewMemoryRepository(), gen, newRemoteStore(t), nil, WithArchive(true), WithFetcher(srv.Client()))

	a, err := svc.Start(context.Background(), StartInput{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "rotate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("archive download never started")
	}

	got, err := svc.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusReady {
		t.Errorf("expected READY during archive, got %s", got.Status)
	}
	if got.VideoURL != srv.URL+"/v.mp4" {
		t.Errorf("unexpected video URL %s", got.VideoURL)
	}
	if err := svc.Cancel(context.Background(), a.ID); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("expected ErrAlreadyFinished during archive, got %v", err)
	}

	release()
	done := waitTerminal(t, svc, a.ID)
	if done.Status != StatusReady {
		t.Errorf("expected READY, got %s", done.Status)
	}
	if done.ArchivedURL != "https://bucket.example.com/videos/"+a.ID+".mp4" {
		t.Errorf("unexpected archived URL %s", done.ArchivedURL)
	}
}

func TestService_ArchiveFailureKeepsReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	gen := &fakeGenerator{encoding: generator.EncodingBase64, outcome: generator.Ready(srv.URL + "/v.mp4")}
	svc := NewService(NewMemoryRepository(), gen, newRemoteStore(t), nil, WithArchive(true), WithFetcher(srv.Client()))

	a, err := svc.Start(context.Background(), StartInput{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "rotate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := waitTerminal(t, svc, a.ID)

	if done.Status != StatusReady {
		t.Errorf("expected READY, got %s", done.Status)
	}
	if done.ArchivedURL != "" {
		t.Errorf("expected no archived URL, got %s", done.ArchivedURL)
	}
}

func TestService_OpenVideo_FromProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()

	gen := &fakeGenerator{encoding: generator.EncodingBase64, outcome: generator.Ready(srv.URL + "/v.mp4")}
	svc := NewService(NewMemoryRepository(), gen, newLocalStore(t), nil, WithFetcher(srv.Client()))

	a, _ := svc.Start(context.Background(), StartInput{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "rotate"})
	waitTerminal(t, svc, a.ID)

	rc, err := svc.OpenVideo(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("open video: %v", err)
	}
	defer func() { _ = rc.Close() }()
	got, _ := io.ReadAll(rc)
	if string(got) != "remote" {
		t.Errorf("expected remote content, got %q", got)
	}
}

func TestService_OpenVideo_NotReady(t *testing.T) {
	gen := &fakeGenerator{encoding: generator.EncodingBase64, outcome: generator.TimedOut()}
	svc := NewService(NewMemoryRepository(), gen, newLocalStore(t), nil)

	a, _ := svc.Start(context.Background(), StartInput{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "rotate"})
	waitTerminal(t, svc, a.ID)

	_, err := svc.OpenVideo(context.Background(), a.ID)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestService_Wait_ContextDone(t *testing.T) {
	gen := &fakeGenerator{encoding: generator.EncodingBase64, outcome: generator.Ready("https://v/1.mp4"), release: make(chan struct{})}
	svc := NewService(NewMemoryRepository(), gen, newLocalStore(t), nil)
	defer close(gen.release)

	a, _ := svc.Start(context.Background(), StartInput{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "rotate"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := svc.Wait(ctx, a.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestService_ProviderName(t *testing.T) {
	svc := NewService(NewMemoryRepository(), &fakeGenerator{}, newLocalStore(t), nil)
	if svc.ProviderName() != "fake" {
		t.Errorf("expected fake, got %s", svc.ProviderName())
	}
}
