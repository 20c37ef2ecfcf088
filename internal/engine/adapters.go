package engine

import (
	"context"
	"io"
	"strconv"

	"meetingsync/internal/catalog"
	"meetingsync/internal/sink"
	"meetingsync/internal/source"
)

// SourceAdapter bridges *source.Client to the engine's narrower
// RecordingSource interface, translating the Source's duck-typed JSON
// response into the engine's RecordingFile shape (Design Notes
// "Duck-typed JSON handling").
type SourceAdapter struct {
	Client *source.Client
}

func (a SourceAdapter) Download(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	return a.Client.Download(ctx, downloadURL, w)
}

func (a SourceAdapter) GetRecordingFiles(ctx context.Context, uuid string) ([]RecordingFile, error) {
	raw, err := a.Client.GetRecording(ctx, uuid)
	if err != nil {
		return nil, err
	}
	rawFiles, _ := raw["recording_files"].([]any)
	files := make([]RecordingFile, 0, len(rawFiles))
	for _, entry := range rawFiles {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		files = append(files, RecordingFile{
			ID:            stringField(m, "id"),
			RecordingType: stringField(m, "recording_type"),
			FileType:      stringField(m, "file_type"),
			DownloadURL:   stringField(m, "download_url"),
			FileSize:      int64Field(m, "file_size"),
		})
	}
	return files, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func int64Field(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// SinkAdapter bridges *sink.Client to the engine's Sink interface,
// resolving the Ingest's configured ACL id against the Catalog Cache
// before building the XACML policy.
type SinkAdapter struct {
	Client   *sink.Client
	Catalogs *catalog.Cache
}

func (a SinkAdapter) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	var acl *catalog.ACL
	if req.ACLID != "" {
		if resolved, ok := a.Catalogs.ACL(ctx, req.ACLID); ok {
			acl = &resolved
		}
	}
	result, err := a.Client.Ingest(ctx, sink.IngestRequest{
		WorkflowID:    req.WorkflowID,
		EpisodeDC:     req.EpisodeDC,
		Duration:      req.Duration,
		ExtensionDC:   req.ExtensionDC,
		ACL:           acl,
		ChatPath:      req.ChatPath,
		VideoPath:     req.VideoPath,
		VideoFileName: req.VideoFileName,
	})
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{MediaPackageID: result.MediaPackageID, WorkflowInstanceID: result.WorkflowInstanceID}, nil
}
