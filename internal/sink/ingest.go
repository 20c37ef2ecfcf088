package sink

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"

	"meetingsync/internal/catalog"
	"meetingsync/internal/pipeline"
)

// Track describes one file to attach to the mediapackage during the
// ingest protocol (video track or chat transcript).
type Track struct {
	Flavor      string
	Path        string
	ContentType string
	FileName    string
}

// IngestRequest carries everything the 7-step ingest protocol needs.
type IngestRequest struct {
	WorkflowID    string
	EpisodeDC     map[string]string
	Duration      int // minutes
	ExtensionDC   map[string]string
	ACL           *catalog.ACL
	ChatPath      string
	VideoPath     string
	VideoFileName string
}

// IngestResult is extracted from the workflow response XML.
type IngestResult struct {
	MediaPackageID     string
	WorkflowInstanceID string
}

// Ingest drives the Sink's sequential mediapackage-building protocol (spec
// §4.3 "Upload protocol"): createMediaPackage, addDCCatalog episode, the
// optional ethterms/xacml/chat steps, addTrack, then ingest/{workflow_id}.
// Each intermediate response is parsed as XML to validate well-formedness
// before being fed into the next step.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	mp, err := c.createMediaPackage(ctx)
	if err != nil {
		return IngestResult{}, err
	}

	episodeXML, err := BuildEpisodeDublinCore(req.EpisodeDC, req.Duration)
	if err != nil {
		return IngestResult{}, pipeline.MediapackageInvalid(err, "build episode dublin core")
	}
	mp, err = c.addDCCatalog(ctx, mp, "dublincore/episode", episodeXML)
	if err != nil {
		return IngestResult{}, err
	}

	if HasEthtermsFields(req.ExtensionDC) {
		ethXML, err := BuildEthterms(req.ExtensionDC)
		if err != nil {
			return IngestResult{}, pipeline.MediapackageInvalid(err, "build ethterms")
		}
		mp, err = c.addDCCatalog(ctx, mp, "ethterms/episode", ethXML)
		if err != nil {
			return IngestResult{}, err
		}
	}

	if req.ACL != nil {
		policy, err := BuildXACMLPolicy(req.WorkflowID, *req.ACL)
		if err != nil {
			return IngestResult{}, pipeline.MediapackageInvalid(err, "build xacml policy")
		}
		mp, err = c.addAttachmentBytes(ctx, mp, "security/xacml+episode", "policy.xml", "text/xml", policy)
		if err != nil {
			return IngestResult{}, err
		}
	}

	if req.ChatPath != "" {
		mp, err = c.addAttachmentFile(ctx, mp, "chat/transcript", req.ChatPath, "text/plain")
		if err != nil {
			return IngestResult{}, err
		}
	}

	mp, err = c.addTrack(ctx, mp, "presentation/source", req.VideoPath, req.VideoFileName, "video/mp4")
	if err != nil {
		return IngestResult{}, err
	}

	return c.startWorkflow(ctx, req.WorkflowID, mp)
}

func (c *Client) createMediaPackage(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/ingest/createMediaPackage", nil, nil)
	if err != nil {
		return nil, err
	}
	return readMediaPackage(resp)
}

func (c *Client) addDCCatalog(ctx context.Context, mp []byte, flavor string, dcXML []byte) ([]byte, error) {
	body, contentType, err := buildMultipart(map[string]fieldValue{
		"flavor":      {value: flavor},
		"mediaPackage": {value: string(mp)},
		"dublinCore":  {value: string(dcXML)},
	}, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.postMultipart(ctx, "/ingest/addDCCatalog", contentType, body)
	if err != nil {
		return nil, err
	}
	return readMediaPackage(resp)
}

func (c *Client) addAttachmentBytes(ctx context.Context, mp []byte, flavor, fileName, contentType string, data []byte) ([]byte, error) {
	body, mpContentType, err := buildMultipart(map[string]fieldValue{
		"flavor":      {value: flavor},
		"mediaPackage": {value: string(mp)},
	}, []filePart{{field: "BODY", fileName: fileName, contentType: contentType, reader: newByteCounter(newBytesReader(data), int64(len(data)), c.logger, fileName)}})
	if err != nil {
		return nil, err
	}
	resp, err := c.postMultipart(ctx, "/ingest/addAttachment", mpContentType, body)
	if err != nil {
		return nil, err
	}
	return readMediaPackage(resp)
}

func (c *Client) addAttachmentFile(ctx context.Context, mp []byte, flavor, path, contentType string) ([]byte, error) {
	return c.attachStreamedFile(ctx, "/ingest/addAttachment", mp, flavor, path, contentType)
}

func (c *Client) addTrack(ctx context.Context, mp []byte, flavor, path, fileName, contentType string) ([]byte, error) {
	return c.attachStreamedFile(ctx, "/ingest/addTrack", mp, flavor, path, contentType, fileName)
}

func (c *Client) attachStreamedFile(ctx context.Context, endpoint string, mp []byte, flavor, path, contentType string, fileNameOverride ...string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pipeline.FileMissing("open %s: %v", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, pipeline.FileMissing("stat %s: %v", path, err)
	}
	fileName := info.Name()
	if len(fileNameOverride) > 0 && fileNameOverride[0] != "" {
		fileName = fileNameOverride[0]
	}
	counted := newByteCounter(f, info.Size(), c.logger, fileName)

	body, mpContentType, err := buildMultipart(map[string]fieldValue{
		"flavor":      {value: flavor},
		"mediaPackage": {value: string(mp)},
	}, []filePart{{field: "BODY", fileName: fileName, contentType: contentType, reader: counted}})
	if err != nil {
		return nil, err
	}
	resp, err := c.postMultipartLong(ctx, endpoint, mpContentType, body)
	if err != nil {
		return nil, err
	}
	return readMediaPackage(resp)
}

func (c *Client) startWorkflow(ctx context.Context, workflowID string, mp []byte) (IngestResult, error) {
	body, contentType, err := buildMultipart(map[string]fieldValue{
		"mediaPackage": {value: string(mp)},
	}, nil)
	if err != nil {
		return IngestResult{}, err
	}
	resp, err := c.postMultipart(ctx, "/ingest/ingest/"+url.PathEscape(workflowID), contentType, body)
	if err != nil {
		return IngestResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return IngestResult{}, pipeline.OpencastError(resp.StatusCode, readSnippet(resp.Body))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return IngestResult{}, pipeline.Transport(err, "read workflow response")
	}
	return parseWorkflowXML(raw)
}

func (c *Client) postMultipart(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	return c.postMultipartVia(ctx, c.httpClient, path, contentType, body)
}

// postMultipartLong is postMultipart against the upload client, for the
// addTrack/addAttachment calls that stream a file body (see
// Config.UploadTimeout).
func (c *Client) postMultipartLong(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	return c.postMultipartVia(ctx, c.uploadClient, path, contentType, body)
}

func (c *Client) postMultipartVia(ctx context.Context, client *http.Client, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path, nil), body)
	if err != nil {
		return nil, pipeline.Transport(err, "build request POST %s", path)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := client.Do(req)
	if err != nil {
		return nil, pipeline.Transport(err, "POST %s", path)
	}
	return resp, nil
}

func readMediaPackage(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, pipeline.OpencastError(resp.StatusCode, readSnippet(resp.Body))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipeline.Transport(err, "read mediapackage response")
	}
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(raw, &probe); err != nil {
		return nil, pipeline.MediapackageInvalid(err, "parse mediapackage response")
	}
	return raw, nil
}

func parseWorkflowXML(raw []byte) (IngestResult, error) {
	var doc struct {
		XMLName xml.Name `xml:"workflow"`
		ID      string   `xml:"id,attr"`
		Mp      struct {
			ID string `xml:"id,attr"`
		} `xml:"mediapackage"`
	}
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return IngestResult{}, pipeline.MediapackageInvalid(err, "parse workflow response")
	}
	return IngestResult{MediaPackageID: doc.Mp.ID, WorkflowInstanceID: doc.ID}, nil
}

type fieldValue struct{ value string }

type filePart struct {
	field       string
	fileName    string
	contentType string
	reader      io.Reader
}

func buildMultipart(fields map[string]fieldValue, files []filePart) (io.Reader, string, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		var err error
		defer func() {
			cerr := writer.Close()
			if err == nil {
				err = cerr
			}
			pw.CloseWithError(err)
		}()
		for name, fv := range fields {
			if err = writer.WriteField(name, fv.value); err != nil {
				return
			}
		}
		for _, f := range files {
			var part io.Writer
			part, err = writer.CreatePart(filePartHeader(f.field, f.fileName, f.contentType))
			if err != nil {
				return
			}
			if _, err = io.Copy(part, f.reader); err != nil {
				return
			}
		}
	}()
	return pr, writer.FormDataContentType(), nil
}

func filePartHeader(field, fileName, contentType string) map[string][]string {
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, fileName)},
		"Content-Type":        {contentType},
	}
}
