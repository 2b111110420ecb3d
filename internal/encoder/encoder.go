// Package encoder turns a product-card image into the representation a
// generation provider expects: a base64 string, a multipart part, or a hosted
// URL. Content is carried byte-exact in every mode.
package encoder

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Static errors for encoder operations.
var (
	// ErrEmptySource is returned when a Source carries no image.
	ErrEmptySource = errors.New("encoder: empty image source")
	// ErrNotHosted is returned when a hosted URL is requested from a local image.
	ErrNotHosted = errors.New("encoder: image is not hosted at a URL")
	// ErrNotImage is returned when the content is not an image.
	ErrNotImage = errors.New("encoder: content is not an image")
	// ErrInvalidImageURL is returned for URLs that are not http(s) jpg/jpeg/png.
	ErrInvalidImageURL = errors.New("encoder: image URL must be an http(s) link to a PNG or JPG")
	// ErrTooLarge is returned when a fetched image exceeds MaxImageBytes.
	ErrTooLarge = errors.New("encoder: image too large")
	// ErrFetchFailed is returned when a hosted image cannot be downloaded.
	ErrFetchFailed = errors.New("encoder: fetch image failed")
)

// MaxImageBytes bounds how much is read from a hosted image.
const MaxImageBytes = 20 << 20

// Kind identifies how a Source holds its image.
type Kind string

// Source kinds.
const (
	KindFile   Kind = "file"
	KindBytes  Kind = "bytes"
	KindURL    Kind = "url"
	KindBase64 Kind = "base64"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Source is an immutable reference to an input image.
type Source struct {
	kind Kind
	path string
	name string
	data []byte
	url  string
	b64  string
}

// FromFile references an image on local disk. The file is read lazily.
func FromFile(p string) Source {
	return Source{kind: KindFile, path: p, name: filepath.Base(p)}
}

// FromBytes references an in-memory image such as an uploaded form file.
func FromBytes(name string, data []byte) Source {
	cp := make([]byte, len(data))
	copy(cp, data)
	return Source{kind: KindBytes, name: name, data: cp}
}

// FromURL references an image already hosted at rawURL.
func FromURL(rawURL string) Source {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	name := "image"
	if err == nil && path.Base(u.Path) != "/" && path.Base(u.Path) != "." {
		name = path.Base(u.Path)
	}
	return Source{kind: KindURL, url: rawURL, name: name}
}

// FromBase64 references a base64 image. A data URL prefix
// ("data:image/png;base64,") is stripped.
func FromBase64(s string) Source {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return Source{kind: KindBase64, b64: s, name: "image"}
}

// Kind reports how the image is held.
func (s Source) Kind() Kind { return s.kind }

// IsZero reports whether the Source references nothing.
func (s Source) IsZero() bool {
	switch s.kind {
	case KindFile:
		return s.path == ""
	case KindBytes:
		return len(s.data) == 0
	case KindURL:
		return s.url == ""
	case KindBase64:
		return s.b64 == ""
	default:
		return true
	}
}

// Name is a filename hint for multipart uploads and object keys.
func (s Source) Name() string {
	if s.name == "" {
		return "image"
	}
	return s.name
}

// String describes the source for logs without dumping its content.
func (s Source) String() string {
	switch s.kind {
	case KindFile:
		return "file:" + s.path
	case KindBytes:
		return fmt.Sprintf("bytes:%s(%d)", s.Name(), len(s.data))
	case KindURL:
		return "url:" + redactURL(s.url)
	case KindBase64:
		return fmt.Sprintf("base64(%d)", len(s.b64))
	default:
		return "empty"
	}
}

// redactURL drops credentials and the query string, which carries the
// signature of presigned links.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// URL returns the hosted image URL. Local sources return ErrNotHosted.
func (s Source) URL() (string, error) {
	if s.IsZero() {
		return "", ErrEmptySource
	}
	if s.kind != KindURL {
		return "", ErrNotHosted
	}
	return s.url, nil
}

// Bytes returns the raw image content. Hosted images are downloaded with
// client (http.DefaultClient when nil).
func (s Source) Bytes(ctx context.Context, client *http.Client) ([]byte, error) {
	if s.IsZero() {
		return nil, ErrEmptySource
	}

	var data []byte
	switch s.kind {
	case KindFile:
		b, err := os.ReadFile(s.path) // #nosec G304 - path is supplied by the caller
		if err != nil {
			return nil, fmt.Errorf("encoder: read image file: %w", err)
		}
		data = b
	case KindBytes:
		data = append([]byte(nil), s.data...)
	case KindBase64:
		b, err := base64.StdEncoding.DecodeString(s.b64)
		if err != nil {
			return nil, fmt.Errorf("encoder: decode base64: %w", err)
		}
		data = b
	case KindURL:
		b, err := fetch(ctx, client, s.url)
		if err != nil {
			return nil, err
		}
		data = b
	}

	if err := checkImage(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Base64 returns the image as standard base64 without a data URL prefix.
func (s Source) Base64(ctx context.Context, client *http.Client) (string, error) {
	if s.kind == KindBase64 && !s.IsZero() {
		// Decode once to reject garbage, but hand back the caller's text as-is.
		if _, err := s.Bytes(ctx, client); err != nil {
			return "", err
		}
		return s.b64, nil
	}
	data, err := s.Bytes(ctx, client)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// WritePart writes the image as a binary multipart file part named field.
func (s Source) WritePart(ctx context.Context, client *http.Client, mw *multipart.Writer, field string) error {
	data, err := s.Bytes(ctx, client)
	if err != nil {
		return err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, s.Name()))
	h.Set("Content-Type", mimetype.Detect(data).String())

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("encoder: create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("encoder: write multipart part: %w", err)
	}
	return nil
}

// DetectMIME returns the detected content type of data.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// ValidateImageURL checks that rawURL is an absolute http(s) URL whose path
// ends in .jpg, .jpeg or .png.
func ValidateImageURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ErrInvalidImageURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidImageURL
	}
	if !imageExtensions[strings.ToLower(path.Ext(u.Path))] {
		return ErrInvalidImageURL
	}
	return nil
}

func checkImage(data []byte) error {
	if len(data) == 0 {
		return ErrEmptySource
	}
	if !strings.HasPrefix(mimetype.Detect(data).String(), "image/") {
		return ErrNotImage
	}
	return nil
}

func fetch(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if len(data) > MaxImageBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
