package sink

import (
	"bytes"
	"io"
	"log/slog"
)

// byteCounter wraps a reader and emits a debug log at each new integer
// multiple of 5% of total bytes read, per spec §4.3 "All multipart POSTs
// must use streaming upload with a monitored byte counter".
type byteCounter struct {
	r          io.Reader
	total      int64
	read       int64
	lastNotch  int
	logger     *slog.Logger
	label      string
}

func newByteCounter(r io.Reader, total int64, logger *slog.Logger, label string) *byteCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &byteCounter{r: r, total: total, logger: logger, label: label}
}

func newBytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

func (bc *byteCounter) Read(p []byte) (int, error) {
	n, err := bc.r.Read(p)
	bc.read += int64(n)
	if bc.total > 0 {
		notch := int(bc.read * 100 / bc.total)
		notch -= notch % 5
		if notch > bc.lastNotch {
			bc.lastNotch = notch
			bc.logger.Debug("upload progress", "file", bc.label, "percent", notch)
		}
	}
	return n, err
}
