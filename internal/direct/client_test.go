package direct

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/cardmotion/internal/encoder"
	"github.com/maauso/cardmotion/internal/transport"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0x01, 0x02, 0x03)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", "k")
	assert.ErrorIs(t, err, ErrBaseURLRequired)

	_, err = NewClient("http://localhost", " ")
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestHTTPClient_Submit_Multipart(t *testing.T) {
	cfg := 0.7
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "zoom in", r.FormValue("prompt"))
		assert.Equal(t, "9:16", r.FormValue("aspect_ratio"))
		assert.Equal(t, "10", r.FormValue("duration"))
		assert.Equal(t, "0.7", r.FormValue("cfg_scale"))
		assert.Empty(t, r.FormValue("mode"))

		f, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		assert.Equal(t, "card.png", hdr.Filename)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		got, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(pngBytes, got), "image bytes must be sent unmodified")

		_, _ = w.Write([]byte(`{"jobId":"job-42","status":"pending"}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL, "secret")
	require.NoError(t, err)

	res, err := c.Submit(context.Background(), encoder.FromBytes("card.png", pngBytes), SubmitOptions{
		Prompt:      "zoom in",
		AspectRatio: "9:16",
		Duration:    10,
		CfgScale:    &cfg,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-42", res.JobID)
	assert.Empty(t, res.VideoURL)
}

func TestHTTPClient_Submit_FieldOrder(t *testing.T) {
	cfg := 1.5
	opts := SubmitOptions{
		Prompt:         "zoom in",
		NegativePrompt: "blur",
		AspectRatio:    "1:1",
		Duration:       5,
		CfgScale:       &cfg,
		Mode:           "pro",
	}
	want := []string{"image", "prompt", "negative_prompt", "aspect_ratio", "duration", "cfg_scale", "mode"}

	var bodies [][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		require.NoError(t, err)

		var names []string
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			names = append(names, part.FormName())
			_ = part.Close()
		}
		bodies = append(bodies, names)

		_, _ = w.Write([]byte(`{"jobId":"job-1"}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL, "secret")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.Submit(context.Background(), encoder.FromBytes("card.png", pngBytes), opts)
		require.NoError(t, err)
	}

	require.Len(t, bodies, 3)
	for _, names := range bodies {
		assert.Equal(t, want, names)
	}
}

func TestHTTPClient_Submit_DirectVideo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"videoUrl":"https://cdn/v.mp4"}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL, "secret")
	require.NoError(t, err)

	res, err := c.Submit(context.Background(), encoder.FromBytes("card.png", pngBytes), SubmitOptions{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/v.mp4", res.VideoURL)
}

func TestHTTPClient_Submit_Errors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("bad token"))
		}))
		defer server.Close()

		c, err := NewClient(server.URL, "secret")
		require.NoError(t, err)

		_, err = c.Submit(context.Background(), encoder.FromBytes("card.png", pngBytes), SubmitOptions{Prompt: "p"})
		se, ok := transport.AsStatusError(err)
		require.True(t, ok)
		assert.Equal(t, "401 bad token", se.Error())
	})

	t.Run("malformed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer server.Close()

		c, err := NewClient(server.URL, "secret")
		require.NoError(t, err)

		_, err = c.Submit(context.Background(), encoder.FromBytes("card.png", pngBytes), SubmitOptions{Prompt: "p"})
		assert.ErrorIs(t, err, transport.ErrMalformedBody)
	})
}

func TestHTTPClient_Poll_UsesIDQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "a b/c", r.URL.Query().Get("id"))
		assert.Equal(t, "1", r.URL.Query().Get("v"))
		_, _ = w.Write([]byte(`{"status":"processing"}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL+"?v=1", "secret")
	require.NoError(t, err)

	res, err := c.Poll(context.Background(), "a b/c")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, res.Status)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus Status
		wantURL    string
		wantErr    string
	}{
		{"pending", `{"status":"pending"}`, StatusPending, "", ""},
		{"completed", `{"status":"completed","videoUrl":"https://v.mp4"}`, StatusCompleted, "https://v.mp4", ""},
		{"url without status", `{"videoUrl":"https://v.mp4"}`, StatusCompleted, "https://v.mp4", ""},
		{"failed", `{"status":"failed","error":"content policy"}`, StatusFailed, "", "content policy"},
		{"failed generic", `{"status":"FAILED"}`, StatusFailed, "", "generation failed"},
		{"completed without url", `{"status":"completed"}`, StatusCompleted, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseStatus([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantURL, res.VideoURL)
			assert.Equal(t, tt.wantErr, res.Error)
		})
	}
}
