// Package pipeline defines the tagged error taxonomy shared by every stage
// of the ingest pipeline, in place of the exception hierarchy a dynamic
// implementation would raise across layers. Adapter methods translate
// transport errors into these types; the engine inspects Retryable to
// decide between a terminal status and leaving the row for the reaper.
package pipeline

import "fmt"

// Kind distinguishes the taxonomy of failure described in the component
// design: validation failures surfaced at intake, logical failures inside
// the engine, and transient failures that warrant a retry.
type Kind string

const (
	KindBadWebhookData      Kind = "bad_webhook_data"
	KindNoMp4Files          Kind = "no_mp4_files"
	KindTransport           Kind = "transport"
	KindMediapackageInvalid Kind = "mediapackage_invalid"
	KindFileMissing         Kind = "file_missing"
	KindSizeMismatch        Kind = "size_mismatch"
	KindOpencastError       Kind = "opencast_error"
)

// Error is the typed error carried across component boundaries. It wraps an
// optional underlying cause and self-reports whether the job-level retry
// loop should re-drive the owning Ingest.
type Error struct {
	Kind      Kind
	Message   string
	Cause     error
	retryable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the job that produced this error should be left
// in a reapable state instead of marked terminal.
func (e *Error) Retryable() bool { return e.retryable }

// BadWebhookData reports a schema violation on a Source payload. Never
// retryable: the payload shape will not change on retry.
func BadWebhookData(format string, args ...any) *Error {
	return &Error{Kind: KindBadWebhookData, Message: fmt.Sprintf(format, args...)}
}

// NoMp4Files reports that no acceptable video track could be selected.
// Retryable when raised inside the engine (the Source may still be
// finalizing the recording's file set); the intake-layer validation path
// that also raises this uses the same constructor but never retries,
// since intake never retries internally per the propagation policy.
func NoMp4Files(format string, args ...any) *Error {
	return &Error{Kind: KindNoMp4Files, Message: fmt.Sprintf(format, args...), retryable: true}
}

// Transport wraps a connection/5xx/429 failure from any remote dependency.
// Always retryable at the job level after the adapter's own retry budget is
// exhausted.
func Transport(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindTransport, Message: fmt.Sprintf(format, args...), Cause: cause, retryable: true}
}

// MediapackageInvalid reports an XML parse failure on an intermediate Sink
// response. Retryable: the Ingest returns to a non-terminal state and will
// be reaped, restarting the upload protocol from step 1.
func MediapackageInvalid(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindMediapackageInvalid, Message: fmt.Sprintf(format, args...), Cause: cause, retryable: true}
}

// FileMissing reports a local filesystem inconsistency (expected download
// target absent). Retryable.
func FileMissing(format string, args ...any) *Error {
	return &Error{Kind: KindFileMissing, Message: fmt.Sprintf(format, args...), retryable: true}
}

// SizeMismatch reports that a downloaded file's size does not match the
// Source-reported size. Retryable.
func SizeMismatch(expected, actual int64) *Error {
	return &Error{Kind: KindSizeMismatch, Message: fmt.Sprintf("expected %d bytes, got %d", expected, actual), retryable: true}
}

// OpencastError reports a non-2xx response at a terminal Sink operation
// (e.g. series creation returning something other than 201). Surfaced to
// the caller; the engine retries via the reaper.
func OpencastError(status int, body string) *Error {
	return &Error{Kind: KindOpencastError, Message: fmt.Sprintf("unexpected status %d: %s", status, body), retryable: true}
}

// IsRetryable reports whether err, if it is (or wraps) a *Error, is
// retryable. Non-pipeline errors are treated as retryable by default since
// the engine cannot distinguish their cause.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if ok := asError(err, &pe); ok {
		return pe.Retryable()
	}
	return true
}

func asError(err error, target **Error) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			*target = pe
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
