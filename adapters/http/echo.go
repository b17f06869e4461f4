// Package http provides the HTTP echo service used to exercise gateways
// locally and in tests.
package http

import (
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// EchoResponse is the document returned by the echo endpoints.
type EchoResponse struct {
	Args    map[string]any    `json:"args"`
	Data    string            `json:"data"`
	Headers map[string]string `json:"headers"`
	JSON    any               `json:"json"`
	Method  string            `json:"method"`
	Origin  string            `json:"origin"`
	URL     string            `json:"url"`
}

// EchoConfig configures the echo router.
type EchoConfig struct {
	// MaxBodyBytes caps request bodies. Zero means 10MB.
	MaxBodyBytes int64

	// Gatherer exposes /metrics when set.
	Gatherer prometheus.Gatherer
}

// NewEchoRouter returns an httpbin-style router: /get, /post, /put, /patch,
// /delete and /anything echo the request back, /status/{code} answers with
// the given status, /health reports liveness.
func NewEchoRouter(logger zerolog.Logger, cfg EchoConfig) chi.Router {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	h := &echoHandler{maxBody: maxBody}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/get", h.echo)
	r.Head("/get", h.echo)
	r.Post("/post", h.echo)
	r.Put("/put", h.echo)
	r.Patch("/patch", h.echo)
	r.Delete("/delete", h.echo)
	r.HandleFunc("/anything", h.echo)
	r.HandleFunc("/anything/*", h.echo)
	r.HandleFunc("/status/{code}", h.status)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	return r
}

type echoHandler struct {
	maxBody int64
}

func (h *echoHandler) echo(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp := EchoResponse{
		Args:    args(r),
		Data:    string(data),
		Headers: headers(r.Header),
		Method:  r.Method,
		Origin:  origin(r),
		URL:     requestURL(r),
	}
	if len(data) > 0 {
		var parsed any
		if err := json.Unmarshal(data, &parsed); err == nil {
			resp.JSON = parsed
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *echoHandler) status(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code < 100 || code > 599 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status code"})
		return
	}
	writeJSON(w, code, map[string]any{"status": code})
}

// args mirrors the query: single values as strings, repeated keys as lists.
func args(r *http.Request) map[string]any {
	q := r.URL.Query()
	out := make(map[string]any, len(q))
	for k, vs := range q {
		if len(vs) == 1 {
			out[k] = vs[0]
		} else {
			out[k] = vs
		}
	}
	return out
}

func headers(h http.Header) map[string]string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = strings.Join(h[k], ", ")
	}
	return out
}

func origin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewLoggingMiddleware logs each request at debug level.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
