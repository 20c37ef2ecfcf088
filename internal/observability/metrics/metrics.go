package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests and ingest pipeline outcomes. It coordinates concurrent writers
// via a RWMutex; pure counters use atomics directly.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	catalogOutcomes map[catalogLabel]uint64

	ingestFinished atomic.Int64
	ingestWarning  atomic.Int64
	ingestRetried  atomic.Int64
	reaperSweeps   atomic.Int64
	reaperReaped   atomic.Int64
	downloadBytes  atomic.Int64
	uploadBytes    atomic.Int64
}

type catalogLabel struct {
	catalog string
	outcome string
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		catalogOutcomes: make(map[catalogLabel]uint64),
	}
}

// Default returns the singleton Recorder instance shared by packages that do
// not construct their own.
func Default() *Recorder {
	return defaultRecorder
}

// SetDefault replaces the package-level default recorder. Tests use this to
// install a scratch recorder and restore the original afterwards.
func SetDefault(r *Recorder) {
	defaultRecorder = r
}

// Registry bundles a Recorder for callers that want an explicit handle
// instead of reaching through the package-level default.
type Registry struct {
	Recorder *Recorder
}

// NewRegistry constructs a Registry around a fresh Recorder and installs it
// as the package-level default.
func NewRegistry() *Registry {
	r := New()
	SetDefault(r)
	return &Registry{Recorder: r}
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// IncIngestFinished records a completed ingest using a preferred track.
func (r *Recorder) IncIngestFinished() { r.ingestFinished.Add(1) }

// IncIngestWarning records a completed ingest using a fallback track.
func (r *Recorder) IncIngestWarning() { r.ingestWarning.Add(1) }

// IncIngestRetried records a job-level retryable failure.
func (r *Recorder) IncIngestRetried() { r.ingestRetried.Add(1) }

// IncReaperSweep records one reaper tick and the number of stale rows it
// picked up.
func (r *Recorder) IncReaperSweep(n int) {
	r.reaperSweeps.Add(1)
	r.reaperReaped.Add(int64(n))
}

// AddDownloadBytes accumulates bytes streamed from the Source.
func (r *Recorder) AddDownloadBytes(n int64) { r.downloadBytes.Add(n) }

// AddUploadBytes accumulates bytes streamed to the Sink.
func (r *Recorder) AddUploadBytes(n int64) { r.uploadBytes.Add(n) }

// ObserveCatalogRefresh records the outcome ("ok" or "error") of one
// Catalog Cache refresh attempt.
func (r *Recorder) ObserveCatalogRefresh(catalog, outcome string) {
	label := catalogLabel{catalog: normalizeName(catalog), outcome: normalizeName(outcome)}
	r.mu.Lock()
	r.catalogOutcomes[label]++
	r.mu.Unlock()
}

// Reset clears all counters and gauges on the recorder. Intended for test
// setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.catalogOutcomes = make(map[catalogLabel]uint64)
	r.ingestFinished.Store(0)
	r.ingestWarning.Store(0)
	r.ingestRetried.Store(0)
	r.reaperSweeps.Store(0)
	r.reaperReaped.Store(0)
	r.downloadBytes.Store(0)
	r.uploadBytes.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	requestLabels := r.sortedRequestLabels()
	catalogLabels := r.sortedCatalogLabels()
	requestCount := make(map[requestLabel]uint64, len(r.requestCount))
	requestDuration := make(map[requestLabel]time.Duration, len(r.requestDuration))
	for k, v := range r.requestCount {
		requestCount[k] = v
	}
	for k, v := range r.requestDuration {
		requestDuration[k] = v
	}
	catalogOutcomes := make(map[catalogLabel]uint64, len(r.catalogOutcomes))
	for k, v := range r.catalogOutcomes {
		catalogOutcomes[k] = v
	}
	r.mu.RUnlock()

	fmt.Fprintln(w, "# HELP meetingsync_http_requests_total Total number of HTTP requests processed by the intake server")
	fmt.Fprintln(w, "# TYPE meetingsync_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "meetingsync_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, requestCount[label])
	}

	fmt.Fprintln(w, "# HELP meetingsync_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE meetingsync_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "meetingsync_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP meetingsync_ingest_finished_total Ingests completed using a preferred track")
	fmt.Fprintln(w, "# TYPE meetingsync_ingest_finished_total counter")
	fmt.Fprintf(w, "meetingsync_ingest_finished_total %d\n", r.ingestFinished.Load())

	fmt.Fprintln(w, "# HELP meetingsync_ingest_warning_total Ingests completed using a fallback track")
	fmt.Fprintln(w, "# TYPE meetingsync_ingest_warning_total counter")
	fmt.Fprintf(w, "meetingsync_ingest_warning_total %d\n", r.ingestWarning.Load())

	fmt.Fprintln(w, "# HELP meetingsync_ingest_retried_total Job-level retryable failures observed by the engine")
	fmt.Fprintln(w, "# TYPE meetingsync_ingest_retried_total counter")
	fmt.Fprintf(w, "meetingsync_ingest_retried_total %d\n", r.ingestRetried.Load())

	fmt.Fprintln(w, "# HELP meetingsync_reaper_sweeps_total Reaper ticks executed")
	fmt.Fprintln(w, "# TYPE meetingsync_reaper_sweeps_total counter")
	fmt.Fprintf(w, "meetingsync_reaper_sweeps_total %d\n", r.reaperSweeps.Load())

	fmt.Fprintln(w, "# HELP meetingsync_reaper_reaped_total Stale Ingest rows re-driven by the reaper")
	fmt.Fprintln(w, "# TYPE meetingsync_reaper_reaped_total counter")
	fmt.Fprintf(w, "meetingsync_reaper_reaped_total %d\n", r.reaperReaped.Load())

	fmt.Fprintln(w, "# HELP meetingsync_download_bytes_total Bytes streamed from the Source")
	fmt.Fprintln(w, "# TYPE meetingsync_download_bytes_total counter")
	fmt.Fprintf(w, "meetingsync_download_bytes_total %d\n", r.downloadBytes.Load())

	fmt.Fprintln(w, "# HELP meetingsync_upload_bytes_total Bytes streamed to the Sink")
	fmt.Fprintln(w, "# TYPE meetingsync_upload_bytes_total counter")
	fmt.Fprintf(w, "meetingsync_upload_bytes_total %d\n", r.uploadBytes.Load())

	fmt.Fprintln(w, "# HELP meetingsync_catalog_refresh_total Catalog Cache refresh attempts by catalog and outcome")
	fmt.Fprintln(w, "# TYPE meetingsync_catalog_refresh_total counter")
	for _, label := range catalogLabels {
		fmt.Fprintf(w, "meetingsync_catalog_refresh_total{catalog=\"%s\",outcome=\"%s\"} %d\n", label.catalog, label.outcome, catalogOutcomes[label])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedCatalogLabels() []catalogLabel {
	labels := make([]catalogLabel, 0, len(r.catalogOutcomes))
	for label := range r.catalogOutcomes {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].catalog != labels[j].catalog {
			return labels[i].catalog < labels[j].catalog
		}
		return labels[i].outcome < labels[j].outcome
	})
	return labels
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
