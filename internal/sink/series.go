package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"meetingsync/internal/pipeline"
)

// SeriesRequest is the body of a series-creation call.
type SeriesRequest struct {
	Metadata    map[string]string
	ACL         string
	Theme       string
	ExtensionDC map[string]string
}

// CreateSeries implements spec §4.3 "Series creation": POST /api/series
// expecting 201, then PUT the extension metadata to the new series's
// ethterms element.
func (c *Client) CreateSeries(ctx context.Context, req SeriesRequest) (string, error) {
	payload := map[string]any{"metadata": req.Metadata, "acl": req.ACL}
	if req.Theme != "" {
		payload["theme"] = req.Theme
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", pipeline.Transport(err, "marshal series request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/series", nil), bytes.NewReader(raw))
	if err != nil {
		return "", pipeline.Transport(err, "build series request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", pipeline.Transport(err, "POST /api/series")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", pipeline.OpencastError(resp.StatusCode, readSnippet(resp.Body))
	}
	var created struct {
		ID string `json:"identifier"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", pipeline.Transport(err, "decode series response")
	}

	if HasEthtermsFields(req.ExtensionDC) {
		ethXML, err := BuildEthterms(req.ExtensionDC)
		if err != nil {
			return "", pipeline.MediapackageInvalid(err, "build series ethterms")
		}
		if err := c.putSeriesEthterms(ctx, created.ID, ethXML); err != nil {
			return "", err
		}
	}
	return created.ID, nil
}

func (c *Client) putSeriesEthterms(ctx context.Context, seriesID string, ethXML []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url("/series/"+seriesID+"/elements/ethterms", nil), bytes.NewReader(ethXML))
	if err != nil {
		return pipeline.Transport(err, "build series ethterms request")
	}
	httpReq.Header.Set("Content-Type", "text/xml")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pipeline.Transport(err, "PUT series ethterms")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return pipeline.OpencastError(resp.StatusCode, readSnippet(resp.Body))
	}
	return nil
}
