package generator

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/cardmotion/internal/direct"
	"github.com/maauso/cardmotion/internal/encoder"
	"github.com/maauso/cardmotion/internal/kling"
	"github.com/maauso/cardmotion/internal/piapi"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0x0a, 0x0b)

type mockPiAPIClient struct {
	mock.Mock
}

func (m *mockPiAPIClient) Submit(ctx context.Context, imageURL string, opts piapi.SubmitOptions) (piapi.SubmitResult, error) {
	args := m.Called(ctx, imageURL, opts)
	return args.Get(0).(piapi.SubmitResult), args.Error(1)
}

func (m *mockPiAPIClient) Poll(ctx context.Context, taskID string) (piapi.PollResult, error) {
	args := m.Called(ctx, taskID)
	return args.Get(0).(piapi.PollResult), args.Error(1)
}

type mockKlingClient struct {
	mock.Mock
}

func (m *mockKlingClient) Submit(ctx context.Context, imageB64 string, opts kling.SubmitOptions) (kling.SubmitResult, error) {
	args := m.Called(ctx, imageB64, opts)
	return args.Get(0).(kling.SubmitResult), args.Error(1)
}

func (m *mockKlingClient) Poll(ctx context.Context, taskID string) (kling.PollResult, error) {
	args := m.Called(ctx, taskID)
	return args.Get(0).(kling.PollResult), args.Error(1)
}

type mockDirectClient struct {
	mock.Mock
}

func (m *mockDirectClient) Submit(ctx context.Context, image encoder.Source, opts direct.SubmitOptions) (direct.SubmitResult, error) {
	args := m.Called(ctx, image, opts)
	return args.Get(0).(direct.SubmitResult), args.Error(1)
}

func (m *mockDirectClient) Poll(ctx context.Context, jobID string) (direct.PollResult, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(direct.PollResult), args.Error(1)
}

func TestPiAPIAdapter_Submit(t *testing.T) {
	ctx := context.Background()
	client := &mockPiAPIClient{}
	adapter := NewPiAPIAdapter(client, Options{AspectRatio: "1:1", Duration: 5, Mode: "std", Model: "kling"})

	client.On("Submit", ctx, "https://x/img.jpg", mock.MatchedBy(func(o piapi.SubmitOptions) bool {
		return o.Prompt == "spin 360" && o.AspectRatio == "16:9" && o.Duration == 5 &&
			o.Model == "kling" && o.Camera != nil && o.Camera.Config.Zoom == 5
	})).Return(piapi.SubmitResult{TaskID: "abc"}, nil)

	acc, err := adapter.Submit(ctx, Request{
		Image:   encoder.FromURL("https://x/img.jpg"),
		Prompt:  "spin 360",
		Options: Options{AspectRatio: "16:9", Camera: &CameraControl{Type: "simple", Zoom: 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, Accepted{JobID: "abc"}, acc)
	assert.Equal(t, EncodingURL, adapter.Encoding())
	client.AssertExpectations(t)
}

func TestPiAPIAdapter_Submit_BlobIsPreflight(t *testing.T) {
	client := &mockPiAPIClient{}
	adapter := NewPiAPIAdapter(client, Options{})

	_, err := adapter.Submit(context.Background(), Request{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "p"})
	assert.ErrorIs(t, err, ErrPreflight)
	assert.ErrorIs(t, err, encoder.ErrNotHosted)
	client.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
}

func TestPiAPIAdapter_Status(t *testing.T) {
	tests := []struct {
		name   string
		result piapi.PollResult
		want   Verdict
	}{
		{"completed", piapi.PollResult{Status: piapi.StatusCompleted, VideoURL: "clean.mp4"}, Verdict{Kind: VerdictReady, VideoURL: "clean.mp4", RawStatus: "completed"}},
		{"failed", piapi.PollResult{Status: piapi.StatusFailed, Error: "nsfw"}, Verdict{Kind: VerdictFailed, Reason: "nsfw", RawStatus: "failed"}},
		{"staged", piapi.PollResult{Status: piapi.StatusStaged}, Verdict{Kind: VerdictPending, RawStatus: "staged"}},
		{"unknown", piapi.PollResult{Status: "retrying"}, Verdict{Kind: VerdictPending, RawStatus: "retrying", Unrecognized: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockPiAPIClient{}
			client.On("Poll", mock.Anything, "abc").Return(tt.result, nil)

			got, err := NewPiAPIAdapter(client, Options{}).Status(context.Background(), "abc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKlingAdapter_Submit_EncodesBase64(t *testing.T) {
	ctx := context.Background()
	client := &mockKlingClient{}
	adapter := NewKlingAdapter(client, Options{Mode: "std", Model: "kling"})

	want := base64.StdEncoding.EncodeToString(pngBytes)
	client.On("Submit", ctx, want, mock.MatchedBy(func(o kling.SubmitOptions) bool {
		return o.Prompt == "zoom" && o.Mode == "std" && o.ModelName == ""
	})).Return(kling.SubmitResult{TaskID: "t-1"}, nil)

	acc, err := adapter.Submit(ctx, Request{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "zoom"})
	require.NoError(t, err)
	assert.Equal(t, "t-1", acc.JobID)
	assert.Equal(t, EncodingBase64, adapter.Encoding())
	client.AssertExpectations(t)
}

func TestKlingAdapter_Submit_NotAnImage(t *testing.T) {
	client := &mockKlingClient{}
	adapter := NewKlingAdapter(client, Options{})

	_, err := adapter.Submit(context.Background(), Request{Image: encoder.FromBytes("notes.txt", []byte("hello world")), Prompt: "p"})
	assert.ErrorIs(t, err, ErrPreflight)
	client.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
}

func TestKlingAdapter_Status(t *testing.T) {
	client := &mockKlingClient{}
	client.On("Poll", mock.Anything, "t-1").Return(kling.PollResult{Status: kling.StatusSucceed, VideoURL: "https://k/v.mp4"}, nil).Once()
	client.On("Poll", mock.Anything, "t-1").Return(kling.PollResult{Status: kling.StatusSubmitted}, nil).Once()

	adapter := NewKlingAdapter(client, Options{})

	v, err := adapter.Status(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, VerdictReady, v.Kind)
	assert.Equal(t, "https://k/v.mp4", v.VideoURL)

	v, err = adapter.Status(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, VerdictPending, v.Kind)
	assert.False(t, v.Unrecognized)
}

func TestDirectAdapter_Submit_SendsRawBytes(t *testing.T) {
	ctx := context.Background()
	client := &mockDirectClient{}
	adapter := NewDirectAdapter(client, Options{Duration: 5})

	client.On("Submit", ctx, encoder.FromBytes("card.png", pngBytes), direct.SubmitOptions{Prompt: "spin", Duration: 5}).
		Return(direct.SubmitResult{VideoURL: "https://cdn/v.mp4"}, nil)

	acc, err := adapter.Submit(ctx, Request{Image: encoder.FromBytes("card.png", pngBytes), Prompt: "spin"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/v.mp4", acc.VideoURL)
	assert.Equal(t, EncodingMultipart, adapter.Encoding())
	client.AssertExpectations(t)
}

func TestDirectAdapter_Status(t *testing.T) {
	client := &mockDirectClient{}
	client.On("Poll", mock.Anything, "job-9").Return(direct.PollResult{Status: direct.StatusFailed, Error: "boom"}, nil)

	v, err := NewDirectAdapter(client, Options{}).Status(context.Background(), "job-9")
	require.NoError(t, err)
	assert.Equal(t, Verdict{Kind: VerdictFailed, Reason: "boom", RawStatus: "failed"}, v)
}

// TestGenerate_PiAPIEndToEnd drives the real PiAPI client against a fake
// server: one submit, three processing polls, then a completed task.
func TestGenerate_PiAPIEndToEnd(t *testing.T) {
	var submits, polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/task":
			submits.Add(1)
			_, _ = w.Write([]byte(`{"code":200,"data":{"task_id":"abc"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/task/abc":
			if polls.Add(1) <= 3 {
				_, _ = w.Write([]byte(`{"code":200,"data":{"task_id":"abc","status":"processing"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"code":200,"data":{"task_id":"abc","status":"completed","output":{"works":[{"video":{"resource":"w.mp4","resource_without_watermark":"clean.mp4"}}]}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	pc, err := piapi.NewClient("key", piapi.WithBaseURL(server.URL))
	require.NoError(t, err)
	c := newTestClient(NewPiAPIAdapter(pc, Options{}), newFakeClock())

	out := c.Generate(context.Background(), validRequest())

	assert.Equal(t, Ready("clean.mp4"), out)
	assert.Equal(t, int32(1), submits.Load())
	assert.Equal(t, int32(4), polls.Load())
}

// Status bodies without an envelope code keep the job pending.
func TestGenerate_PiAPIStatusWithoutCode(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"code":200,"data":{"task_id":"abc"}}`))
			return
		}
		if polls.Add(1) <= 3 {
			_, _ = w.Write([]byte(`{"data":{"task_id":"abc","status":"processing"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"task_id":"abc","status":"completed","output":{"works":[{"video":{"resource":"w.mp4","resource_without_watermark":"clean.mp4"}}]}}}`))
	}))
	defer server.Close()

	pc, err := piapi.NewClient("key", piapi.WithBaseURL(server.URL))
	require.NoError(t, err)
	c := newTestClient(NewPiAPIAdapter(pc, Options{}), newFakeClock())

	out := c.Generate(context.Background(), validRequest())

	assert.Equal(t, Ready("clean.mp4"), out)
	assert.Equal(t, int32(4), polls.Load())
}

func TestGenerate_PiAPISubmit500NeverPolls(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			polls.Add(1)
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer server.Close()

	pc, err := piapi.NewClient("key", piapi.WithBaseURL(server.URL))
	require.NoError(t, err)
	c := newTestClient(NewPiAPIAdapter(pc, Options{}), newFakeClock(), WithDeadline(time.Minute))

	out := c.Generate(context.Background(), validRequest())

	assert.Equal(t, Failed(FailureRejected, "500 internal error"), out)
	assert.Zero(t, polls.Load())
}
