package source

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"meetingsync/internal/pipeline"
)

// Download streams downloadURL to w, attaching the bearer credential as an
// Authorization header (spec §4.4 "The bearer credential is attached as an
// Authorization: Bearer … header, not a query parameter in the newer
// protocol"). Returns the number of bytes written.
func (c *Client) Download(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	token, err := c.minter.Token()
	if err != nil {
		return 0, pipeline.Transport(err, "mint bearer token for download")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return 0, pipeline.Transport(err, "build download request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return 0, pipeline.Transport(err, "download %s", downloadURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, pipeline.Transport(fmt.Errorf("status %d", resp.StatusCode), "download %s", downloadURL)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, pipeline.Transport(err, "stream download body")
	}
	return n, nil
}
