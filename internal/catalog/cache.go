// Package catalog is the Catalog Cache: an in-memory, TTL-refreshing
// mapping of the Sink's four reference catalogs (ACLs, themes, workflow
// definitions, series). The webhook front end consults it to validate
// submissions; the pipeline consults it to resolve policy ids.
//
// Each catalog is refreshed independently under a single-writer-per-catalog
// mutex so concurrent readers never trigger duplicate refreshes; readers
// observe a fresh snapshot via an atomic map-reference swap once a refresh
// completes (spec §5 "Shared state & locking").
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ACL is one access-control-list catalog entry.
type ACL struct {
	ID   string
	Name string
	Aces []Ace
}

// Ace is one access-control-entry: a (role, action, allow) permission.
type Ace struct {
	Role   string
	Action string
	Allow  bool
}

const defaultTTL = time.Hour

// Fetcher retrieves the raw contents of the Sink's four catalogs. Backed by
// a digest-authenticated HTTP client in internal/sink; a separate interface
// here keeps the Catalog Cache testable without standing up HTTP.
type Fetcher interface {
	FetchACLs(ctx context.Context) (map[string]ACL, error)
	FetchThemes(ctx context.Context) (map[string]string, error)
	FetchWorkflows(ctx context.Context) (map[string]string, error)
	FetchSeries(ctx context.Context) (map[string]string, error)
}

// Config configures a Cache.
type Config struct {
	Fetcher Fetcher
	TTL     time.Duration
	// WorkflowFilter, when non-empty, restricts the workflow catalog to
	// these ids (spec §6 Opencast.workflow_filter).
	WorkflowFilter []string
	// SeriesFilter is a regex applied to rendered series titles (spec §6
	// Opencast.series_filter); empty defaults to match-all.
	SeriesFilter string
	Logger       *slog.Logger
}

type catalogName string

const (
	catalogACLs      catalogName = "acls"
	catalogThemes    catalogName = "themes"
	catalogWorkflows catalogName = "workflows"
	catalogSeries    catalogName = "series"
)

// Cache is the Catalog Cache.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	logger  *slog.Logger

	workflowFilter map[string]struct{}
	seriesFilter   *regexp.Regexp

	acls      atomic.Pointer[map[string]ACL]
	themes    atomic.Pointer[map[string]string]
	workflows atomic.Pointer[map[string]string]
	series    atomic.Pointer[map[string]string]

	refreshMu map[catalogName]*sync.Mutex
	lastFetch map[catalogName]time.Time
	mu        sync.Mutex // guards lastFetch only
}

// New constructs a Cache. The initial snapshot is empty; the first Refresh
// (or lazily, the first read) populates it.
func New(cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seriesFilter := cfg.SeriesFilter
	if strings.TrimSpace(seriesFilter) == "" {
		seriesFilter = ".*"
	}
	re, err := regexp.Compile(seriesFilter)
	if err != nil {
		re = regexp.MustCompile(".*")
	}

	workflowFilter := make(map[string]struct{})
	for _, id := range cfg.WorkflowFilter {
		id = strings.TrimSpace(id)
		if id != "" {
			workflowFilter[id] = struct{}{}
		}
	}

	c := &Cache{
		fetcher:        cfg.Fetcher,
		ttl:            ttl,
		logger:         logger,
		workflowFilter: workflowFilter,
		seriesFilter:   re,
		refreshMu: map[catalogName]*sync.Mutex{
			catalogACLs:      {},
			catalogThemes:    {},
			catalogWorkflows: {},
			catalogSeries:    {},
		},
		lastFetch: make(map[catalogName]time.Time),
	}
	empty := map[string]ACL{}
	c.acls.Store(&empty)
	emptyS := map[string]string{}
	c.themes.Store(&emptyS)
	c.workflows.Store(&emptyS)
	c.series.Store(&emptyS)
	return c
}

// RefreshAll forces a refresh of all four catalogs, ignoring TTL. Intended
// for startup warmup; call-site errors are logged, never returned, matching
// spec §4.3 ("failure leaves the previous snapshot in place and logs an
// error, never throws to callers").
func (c *Cache) RefreshAll(ctx context.Context) {
	c.refresh(ctx, catalogACLs, true)
	c.refresh(ctx, catalogThemes, true)
	c.refresh(ctx, catalogWorkflows, true)
	c.refresh(ctx, catalogSeries, true)
}

func (c *Cache) ensureFresh(ctx context.Context, name catalogName) {
	c.mu.Lock()
	last := c.lastFetch[name]
	c.mu.Unlock()
	if time.Since(last) < c.ttl {
		return
	}
	c.refresh(ctx, name, false)
}

func (c *Cache) refresh(ctx context.Context, name catalogName, force bool) {
	lock := c.refreshMu[name]
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	last := c.lastFetch[name]
	c.mu.Unlock()
	if !force && time.Since(last) < c.ttl {
		return
	}

	var err error
	switch name {
	case catalogACLs:
		err = c.refreshACLs(ctx)
	case catalogThemes:
		err = c.refreshThemes(ctx)
	case catalogWorkflows:
		err = c.refreshWorkflows(ctx)
	case catalogSeries:
		err = c.refreshSeries(ctx)
	}

	c.mu.Lock()
	if err == nil {
		c.lastFetch[name] = time.Now()
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("catalog refresh failed", "catalog", string(name), "error", err)
	}
}

func (c *Cache) refreshACLs(ctx context.Context) error {
	snapshot, err := withRetry(ctx, func() (map[string]ACL, error) { return c.fetcher.FetchACLs(ctx) })
	if err != nil {
		return err
	}
	c.acls.Store(&snapshot)
	return nil
}

func (c *Cache) refreshThemes(ctx context.Context) error {
	snapshot, err := withRetry(ctx, func() (map[string]string, error) { return c.fetcher.FetchThemes(ctx) })
	if err != nil {
		return err
	}
	c.themes.Store(&snapshot)
	return nil
}

func (c *Cache) refreshWorkflows(ctx context.Context) error {
	snapshot, err := withRetry(ctx, func() (map[string]string, error) { return c.fetcher.FetchWorkflows(ctx) })
	if err != nil {
		return err
	}
	if len(c.workflowFilter) > 0 {
		filtered := make(map[string]string, len(c.workflowFilter))
		for id, title := range snapshot {
			if _, ok := c.workflowFilter[id]; ok {
				filtered[id] = title
			}
		}
		snapshot = filtered
	}
	c.workflows.Store(&snapshot)
	return nil
}

func (c *Cache) refreshSeries(ctx context.Context) error {
	snapshot, err := withRetry(ctx, func() (map[string]string, error) { return c.fetcher.FetchSeries(ctx) })
	if err != nil {
		return err
	}
	filtered := make(map[string]string, len(snapshot))
	for id, title := range snapshot {
		if c.seriesFilter.MatchString(title) {
			filtered[id] = title
		}
	}
	c.series.Store(&filtered)
	return nil
}

// ACL returns the cached ACL by id, refreshing the catalog first if stale.
func (c *Cache) ACL(ctx context.Context, id string) (ACL, bool) {
	c.ensureFresh(ctx, catalogACLs)
	snapshot := *c.acls.Load()
	acl, ok := snapshot[id]
	return acl, ok
}

// Theme returns the cached theme name by id.
func (c *Cache) Theme(ctx context.Context, id string) (string, bool) {
	c.ensureFresh(ctx, catalogThemes)
	snapshot := *c.themes.Load()
	name, ok := snapshot[id]
	return name, ok
}

// Workflow returns the cached workflow title by id.
func (c *Cache) Workflow(ctx context.Context, id string) (string, bool) {
	c.ensureFresh(ctx, catalogWorkflows)
	snapshot := *c.workflows.Load()
	title, ok := snapshot[id]
	return title, ok
}

// Series returns the cached, rendered series title by id.
func (c *Cache) Series(ctx context.Context, id string) (string, bool) {
	c.ensureFresh(ctx, catalogSeries)
	snapshot := *c.series.Load()
	title, ok := snapshot[id]
	return title, ok
}

// Fresh reports whether every catalog has completed at least one successful
// refresh since startup, for the health endpoint (spec "catalog cache
// freshness").
func (c *Cache) Fresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range [...]catalogName{catalogACLs, catalogThemes, catalogWorkflows, catalogSeries} {
		if c.lastFetch[name].IsZero() {
			return false
		}
	}
	return true
}

// Workflows returns a copy of the id->title workflow snapshot (a map, so
// iteration order is not defined), used
// by the webhook front end to render choices.
func (c *Cache) Workflows(ctx context.Context) map[string]string {
	c.ensureFresh(ctx, catalogWorkflows)
	snapshot := *c.workflows.Load()
	return copyStringMap(snapshot)
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// RenderSeriesTitle formats a series title per spec invariant 8:
// "{title} ({year}) ({creators[:50]})" when creators exist, else
// "{title} ({year})".
func RenderSeriesTitle(title string, created time.Time, creators []string) string {
	year := created.Format("2006")[:4]
	if len(creators) == 0 {
		return fmt.Sprintf("%s (%s)", title, year)
	}
	joined := strings.Join(creators, ", ")
	if len(joined) > 50 {
		joined = joined[:50]
	}
	return fmt.Sprintf("%s (%s) (%s)", title, year, joined)
}

func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	const maxAttempts = 5
	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return result, err
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt) * 500 * time.Millisecond
}
