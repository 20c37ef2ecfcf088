package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"meetingsync/internal/intake"
	"meetingsync/internal/observability/metrics"
)

// Pinger is satisfied by the store and broker dependencies the health
// endpoint checks for reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Fresher is satisfied by the Catalog Cache; it reports whether every
// catalog has completed at least one successful refresh.
type Fresher interface {
	Fresh() bool
}

const healthCheckTimeout = 3 * time.Second

// TLSConfig defines certificate files that enable TLS for the HTTP listener
// created by Server. When both CertFile and KeyFile are provided the server
// starts with TLS; otherwise it falls back to plain HTTP on Config.Addr.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config aggregates the dependencies and settings required to construct a
// Server.
type Config struct {
	Addr      string
	TLS       TLSConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Logger    *slog.Logger
	Metrics   *metrics.Recorder

	// Store, Queue, and Catalog back the /healthz aggregator. Each is
	// optional; a nil dependency is reported healthy so tests that don't
	// care about health wiring can omit it.
	Store   Pinger
	Queue   Pinger
	Catalog Fresher
}

// Server wraps the configured http.Server alongside observability, rate
// limiting, and TLS metadata derived from Config. It has no start or
// shutdown methods of its own: HTTPServer and TLSFiles expose what a runner
// such as serverutil.Run needs to serve and shut down the listener.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	ipResolver  *clientIPResolver
	tlsCertFile string
	tlsKeyFile  string
}

// New wires the Intake HTTP routes onto a mux with the shared middleware
// chain: request-id tagging, security headers, rate limiting, metrics, and
// logging (spec §6 "HTTP boundary").
func New(handler *intake.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthzHandler(cfg.Store, cfg.Queue, cfg.Catalog))
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/webhook", handler.Webhook)
	mux.HandleFunc("/bulk", handler.Bulk)
	mux.HandleFunc("/recording/", handler.RecordingByID)
	mux.HandleFunc("/cancel", handler.Cancel)
	mux.HandleFunc("/delete", handler.Delete)

	rl, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("configure rate limiter: %w", err)
	}
	ipResolver, err := newClientIPResolver(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("configure client ip resolver: %w", err)
	}

	handlerChain := http.Handler(mux)
	handlerChain = rateLimitMiddleware(rl, ipResolver, logger, handlerChain)
	handlerChain = metricsMiddleware(recorder, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = loggingMiddleware(logger, ipResolver, handlerChain)
	handlerChain = requestIDMiddleware(logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      logger,
		metrics:     recorder,
		rateLimiter: rl,
		ipResolver:  ipResolver,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// healthReport is the /healthz JSON body: per-component status plus an
// overall verdict.
type healthReport struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	Queue   string `json:"queue"`
	Catalog string `json:"catalog"`
}

// healthzHandler aggregates store connectivity, broker connectivity, and
// catalog cache freshness into a single endpoint. Any nil dependency is
// reported healthy rather than checked, so callers that don't wire health
// dependencies (unit tests, for instance) still get a 200. A catalog that
// is wired but not yet fresh makes the report unhealthy.
func healthzHandler(storeDep, queueDep Pinger, catalogDep Fresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		report := healthReport{Status: "ok", Store: "ok", Queue: "ok", Catalog: "ok"}
		healthy := true

		if storeDep != nil {
			if err := storeDep.Ping(ctx); err != nil {
				report.Store = err.Error()
				healthy = false
			}
		}
		if queueDep != nil {
			if err := queueDep.Ping(ctx); err != nil {
				report.Queue = err.Error()
				healthy = false
			}
		}
		if catalogDep != nil && !catalogDep.Fresh() {
			report.Catalog = "not yet warmed"
			healthy = false
		}

		if !healthy {
			report.Status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	}
}

// HTTPServer exposes the underlying *http.Server so callers can drive its
// lifecycle through internal/serverutil's graceful-shutdown runner.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// TLSFiles returns the certificate and key paths configured for this
// server, empty when TLS is disabled.
func (s *Server) TLSFiles() (certFile, keyFile string) {
	return s.tlsCertFile, s.tlsKeyFile
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Flush() {
	if flusher, ok := sr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := sr.ResponseWriter.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}

func (sr *statusRecorder) CloseNotify() <-chan bool {
	if notifier, ok := sr.ResponseWriter.(http.CloseNotifier); ok {
		return notifier.CloseNotify()
	}
	return nil
}

func (sr *statusRecorder) ReadFrom(r io.Reader) (int64, error) {
	if readerFrom, ok := sr.ResponseWriter.(io.ReaderFrom); ok {
		return readerFrom.ReadFrom(r)
	}
	return io.Copy(sr.ResponseWriter, r)
}

func loggingMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)
		duration := time.Since(start)
		ip, source := resolveClientIP(r, resolver)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", duration.Milliseconds(),
			"remote_ip", ip,
			"ip_source", source)
	})
}

func metricsMiddleware(recorder *metrics.Recorder, next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		recorder.ObserveRequest(r.Method, r.URL.Path, sr.status, time.Since(start))
	})
}

func rateLimitMiddleware(rl *rateLimiter, resolver *clientIPResolver, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeMiddlewareError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		if r.URL.Path == "/webhook" {
			ip, source := resolveClientIP(r, resolver)
			if !rl.AllowWebhook(ip) {
				if logger != nil {
					logger.Warn("webhook rate limited", "remote_ip", ip, "ip_source", source)
				}
				writeMiddlewareError(w, http.StatusTooManyRequests, "too many webhook requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

const (
	ipSourceRemoteAddr    = "remote_addr"
	ipSourceXForwardedFor = "x_forwarded_for"
	ipSourceXRealIP       = "x_real_ip"
)

type clientIPResolver struct {
	trustForwarded bool
	trustedNets    []*net.IPNet
}

func newClientIPResolver(cfg RateLimitConfig) (*clientIPResolver, error) {
	resolver := &clientIPResolver{trustForwarded: cfg.TrustForwardedHeaders}
	for _, raw := range cfg.TrustedProxies {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, network, err := net.ParseCIDR(trimmed); err == nil {
			resolver.trustedNets = append(resolver.trustedNets, network)
			continue
		}
		ip := net.ParseIP(trimmed)
		if ip == nil {
			return nil, fmt.Errorf("parse trusted proxy %q: invalid address", trimmed)
		}
		maskSize := 128
		if ip.To4() != nil {
			maskSize = 32
		}
		resolver.trustedNets = append(resolver.trustedNets, &net.IPNet{IP: ip, Mask: net.CIDRMask(maskSize, maskSize)})
	}
	return resolver, nil
}

func (r *clientIPResolver) ClientIPFromRequest(req *http.Request) (string, string) {
	if req == nil {
		return "", ipSourceRemoteAddr
	}
	if r != nil && r.shouldTrust(req.RemoteAddr) {
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			for _, part := range parts {
				trimmed := strings.TrimSpace(part)
				if trimmed != "" {
					return trimmed, ipSourceXForwardedFor
				}
			}
		}
		if xrip := strings.TrimSpace(req.Header.Get("X-Real-IP")); xrip != "" {
			return xrip, ipSourceXRealIP
		}
	}
	return clientIP(req.RemoteAddr), ipSourceRemoteAddr
}

func (r *clientIPResolver) shouldTrust(remoteAddr string) bool {
	if r == nil {
		return false
	}
	if r.trustForwarded {
		return true
	}
	if len(r.trustedNets) == 0 {
		return false
	}
	host := clientIP(remoteAddr)
	if host == "" {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range r.trustedNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func resolveClientIP(r *http.Request, resolver *clientIPResolver) (string, string) {
	if resolver == nil {
		return clientIP(r.RemoteAddr), ipSourceRemoteAddr
	}
	return resolver.ClientIPFromRequest(r)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
