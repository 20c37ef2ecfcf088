package sink

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"meetingsync/internal/catalog"
	"meetingsync/internal/pipeline"
)

// Client is the Sink Adapter's HTTP client, grounded on the teacher's
// struct-shaped API client (pkg/mist/client.go: BaseURL, credentials,
// *http.Client, Logger).
type Client struct {
	baseURL      string
	httpClient   *http.Client
	uploadClient *http.Client
	logger       *slog.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	User     string
	Password string
	Logger   *slog.Logger
	// Timeout bounds the quick control-plane calls (catalog fetches,
	// createMediaPackage, addDCCatalog): seconds-scale.
	Timeout time.Duration
	// UploadTimeout bounds addTrack/addAttachment calls that stream a
	// recording's video or chat file body: minutes-scale, since
	// http.Client.Timeout covers the whole request including body
	// transfer (spec §9 "HTTP operations carry generous timeouts").
	UploadTimeout time.Duration
}

// New constructs a Client with a digest-authenticating transport.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	uploadTimeout := cfg.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = 30 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := newDigestTransport(cfg.User, cfg.Password, nil)
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout, Transport: transport},
		uploadClient: &http.Client{Timeout: uploadTimeout, Transport: transport},
		logger:       logger,
	}
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), body)
	if err != nil {
		return nil, pipeline.Transport(err, "build request %s %s", method, path)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pipeline.Transport(err, "%s %s", method, path)
	}
	return resp, nil
}

// FetchACLs implements catalog.Fetcher.
func (c *Client) FetchACLs(ctx context.Context) (map[string]catalog.ACL, error) {
	resp, err := c.do(ctx, http.MethodGet, "/acl-manager/acl/acls.json", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, pipeline.OpencastError(resp.StatusCode, readSnippet(resp.Body))
	}
	var payload struct {
		Acls struct {
			Acl []struct {
				ID   json.Number `json:"id"`
				Name string      `json:"name"`
				Ace  []struct {
					Role   string `json:"role"`
					Action string `json:"action"`
					Allow  bool   `json:"allow"`
				} `json:"ace"`
			} `json:"acl"`
		} `json:"acls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, pipeline.Transport(err, "decode acls.json")
	}
	out := make(map[string]catalog.ACL, len(payload.Acls.Acl))
	for _, a := range payload.Acls.Acl {
		aces := make([]catalog.Ace, 0, len(a.Ace))
		for _, ace := range a.Ace {
			aces = append(aces, catalog.Ace{Role: ace.Role, Action: ace.Action, Allow: ace.Allow})
		}
		out[a.ID.String()] = catalog.ACL{ID: a.ID.String(), Name: a.Name, Aces: aces}
	}
	return out, nil
}

// FetchThemes implements catalog.Fetcher, paginating in pages of 100.
func (c *Client) FetchThemes(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	offset := 0
	for {
		q := url.Values{"limit": {"100"}}
		if offset > 0 {
			q.Set("offset", strconv.Itoa(offset))
		}
		resp, err := c.do(ctx, http.MethodGet, "/admin-ng/themes/themes.json", q, nil)
		if err != nil {
			return nil, err
		}
		var page struct {
			Results []struct {
				ID   json.Number `json:"id"`
				Name string      `json:"name"`
			} `json:"results"`
			Total int `json:"total"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		status := resp.StatusCode
		resp.Body.Close()
		if status != http.StatusOK {
			return nil, pipeline.OpencastError(status, "themes.json")
		}
		if decodeErr != nil {
			return nil, pipeline.Transport(decodeErr, "decode themes.json")
		}
		for _, r := range page.Results {
			out[r.ID.String()] = r.Name
		}
		offset += len(page.Results)
		if len(page.Results) == 0 || offset >= page.Total {
			break
		}
	}
	return out, nil
}

// FetchWorkflows implements catalog.Fetcher. The allowlist filter is
// applied by the caller (internal/catalog), not here.
func (c *Client) FetchWorkflows(ctx context.Context) (map[string]string, error) {
	q := url.Values{"filter": {"tag:upload", "tag:schedule"}}
	resp, err := c.do(ctx, http.MethodGet, "/api/workflow-definitions", q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, pipeline.OpencastError(resp.StatusCode, "workflow-definitions")
	}
	var defs []struct {
		ID    string `json:"identifier"`
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&defs); err != nil {
		return nil, pipeline.Transport(err, "decode workflow-definitions")
	}
	out := make(map[string]string, len(defs))
	for _, d := range defs {
		out[d.ID] = d.Title
	}
	return out, nil
}

// FetchSeries implements catalog.Fetcher, paginating in pages of 100. Title
// rendering (year, creators) is applied by the caller.
func (c *Client) FetchSeries(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	offset := 0
	for {
		q := url.Values{"count": {"100"}}
		if offset > 0 {
			q.Set("offset", strconv.Itoa(offset))
		}
		resp, err := c.do(ctx, http.MethodGet, "/api/series/series.json", q, nil)
		if err != nil {
			return nil, err
		}
		var page struct {
			CatalogList struct {
				Catalog []struct {
					DublinCore struct {
						Title   string   `json:"title"`
						Created string   `json:"created"`
						Creator []string `json:"creator"`
					} `json:"http://purl.org/dc/terms/"`
					ID json.Number `json:"id,omitempty"`
				} `json:"catalog"`
			} `json:"catalogList"`
			TotalCount int `json:"totalCount"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		status := resp.StatusCode
		resp.Body.Close()
		if status != http.StatusOK {
			return nil, pipeline.OpencastError(status, "series.json")
		}
		if decodeErr != nil {
			return nil, pipeline.Transport(decodeErr, "decode series.json")
		}
		n := len(page.CatalogList.Catalog)
		if n == 0 {
			break
		}
		for _, cat := range page.CatalogList.Catalog {
			created, _ := time.Parse(time.RFC3339, cat.DublinCore.Created)
			title := catalog.RenderSeriesTitle(cat.DublinCore.Title, created, cat.DublinCore.Creator)
			out[cat.ID.String()] = title
		}
		offset += n
		if offset >= page.TotalCount {
			break
		}
	}
	return out, nil
}

func readSnippet(r io.Reader) string {
	buf := make([]byte, 512)
	n, _ := r.Read(buf)
	return string(buf[:n])
}
