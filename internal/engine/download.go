package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"meetingsync/internal/pipeline"
)

// Downloader streams a Source file to local disk. Satisfied by
// *source.Client.
type Downloader interface {
	Download(ctx context.Context, downloadURL string, w io.Writer) (int64, error)
}

// downloadTarget returns the resumable local path for a file per spec
// §4.4 "Stream the chosen file to {IN_PROGRESS_ROOT}/{file_uuid}.{ext}".
func downloadTarget(root, fileUUID, ext string) string {
	return filepath.Join(root, fileUUID+"."+ext)
}

// ensureDownloaded skips the transfer if a file of the exact expected size
// already exists (resumption on restart), otherwise downloads and then
// verifies the resulting size, per spec §8 "Resumable download" law.
func ensureDownloaded(ctx context.Context, dl Downloader, downloadURL, path string, expectedSize int64) error {
	if info, err := os.Stat(path); err == nil && info.Size() == expectedSize {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pipeline.FileMissing("create download directory: %v", err)
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return pipeline.FileMissing("create %s: %v", tmp, err)
	}
	n, derr := dl.Download(ctx, downloadURL, f)
	cerr := f.Close()
	if derr != nil {
		os.Remove(tmp)
		return derr
	}
	if cerr != nil {
		os.Remove(tmp)
		return pipeline.FileMissing("close %s: %v", tmp, cerr)
	}
	if expectedSize > 0 && n != expectedSize {
		os.Remove(tmp)
		return pipeline.SizeMismatch(expectedSize, n)
	}
	if err := os.Rename(tmp, path); err != nil {
		return pipeline.FileMissing("rename %s to %s: %v", tmp, path, err)
	}
	return nil
}

// cleanupFiles deletes the downloaded video and (if present) chat file on
// terminal success (spec §4.4 "Cleanup").
func cleanupFiles(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		_ = os.Remove(p)
	}
}
