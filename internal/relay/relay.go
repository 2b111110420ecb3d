// Package relay is a development reverse proxy that forwards every request to
// a provider API and adds permissive CORS so a browser front-end can call it.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/maauso/cardmotion/internal/server"
)

// ErrTargetRequired is returned when no upstream target is configured.
var ErrTargetRequired = errors.New("relay: target URL is required")

// Config configures the relay.
type Config struct {
	// Target is the upstream base URL, e.g. https://api.klingai.com.
	Target string
	// UpstreamProxy optionally routes outbound requests through an HTTP proxy.
	UpstreamProxy string
}

// ErrorResponse is returned when the upstream cannot be reached.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	URL     string `json:"url"`
}

// New returns the relay handler.
func New(cfg Config, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.Target) == "" {
		return nil, ErrTargetRequired
	}
	target, err := url.Parse(cfg.Target)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("relay: invalid target %q", cfg.Target)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.UpstreamProxy != "" {
		proxyURL, err := url.Parse(cfg.UpstreamProxy)
		if err != nil || proxyURL.Host == "" {
			return nil, fmt.Errorf("relay: invalid upstream proxy %q", cfg.UpstreamProxy)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			logger.Info("relay request",
				slog.String("method", pr.In.Method),
				slog.String("path", pr.In.URL.RequestURI()),
				slog.String("upstream", pr.Out.URL.String()),
			)
		},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			allowOrigin(resp.Header, resp.Request.Header.Get("Origin"))
			logger.Info("relay response",
				slog.Int("status", resp.StatusCode),
				slog.String("path", resp.Request.URL.RequestURI()),
			)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("relay error",
				slog.String("path", r.URL.RequestURI()),
				slog.String("error", err.Error()),
			)
			allowOrigin(w.Header(), r.Header.Get("Origin"))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(ErrorResponse{
				Error:   "Proxy error",
				Message: err.Error(),
				URL:     r.URL.RequestURI(),
			})
		},
	}

	chain := server.ChainMiddleware(
		server.RecoveryMiddleware(logger),
		server.RequestIDMiddleware,
		corsMiddleware,
	)
	return chain(proxy), nil
}

// NewServer wraps the relay in an http.Server listening on port.
func NewServer(port int, cfg Config, logger *slog.Logger) (*http.Server, error) {
	h, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// corsMiddleware answers preflight requests and reflects the caller's Origin
// with credentials allowed.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			allowOrigin(w.Header(), origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, PUT, PATCH, POST, DELETE")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowOrigin(h http.Header, origin string) {
	if origin == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Add("Vary", "Origin")
}
