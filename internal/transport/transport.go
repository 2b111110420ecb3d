// Package transport holds the single-shot HTTP round trip shared by the
// provider clients. It never retries: callers decide what a failure means.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrRequestFailed is returned when the request could not be sent or its body
// could not be read.
var ErrRequestFailed = errors.New("transport: request failed")

// maxErrorBody caps how much of a non-2xx body is kept in a StatusError.
const maxErrorBody = 4096

// StatusError reports a non-2xx response. Body holds the (possibly truncated)
// response text verbatim.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, e.Body)
}

// AsStatusError unwraps err into a *StatusError if it carries one.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Do sends req and returns the full response body for 2xx responses.
// Non-2xx responses produce a *StatusError; network and read failures are
// wrapped in ErrRequestFailed.
func Do(ctx context.Context, client *http.Client, req *http.Request) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrRequestFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

// ErrMalformedBody is returned by provider clients when a 2xx body cannot be
// decoded.
var ErrMalformedBody = errors.New("transport: malformed response body")

// EnvelopeError reports a provider envelope whose code signals a rejected
// request even though the HTTP status was 2xx.
type EnvelopeError struct {
	Code    int
	Message string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("provider error code %d: %s", e.Code, e.Message)
}
