package elk

import "fmt"

// Error is a constant error type.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrEncoding is returned when a bulk body can't be represented in the
	// transport charset.
	ErrEncoding = Error("bulk body not representable in transport charset")

	// ErrNoDocumentID is returned by an Enricher when a raw item carries none
	// of the fields its document id is taken from.
	ErrNoDocumentID = Error("raw item has no document id")

	// ErrAborted is returned from Ingester.Run after Abort was called.
	ErrAborted = Error("ingest aborted, partial batch discarded")

	// ErrUploaderClosed is returned when submitting to a closed Uploader.
	ErrUploaderClosed = Error("uploader is closed")
)

// BatchError reports a failure which ended a run along with the number of
// documents which were durably written by earlier bulk requests. Those
// requests are committed and unaffected by the failure.
type BatchError struct {
	Written int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d documents written before failure: %v", e.Written, e.Err)
}

// Cause lets errors.Cause see the underlying failure.
func (e *BatchError) Cause() error { return e.Err }
