package artwork

import (
	"context"
	"errors"
	"fmt"
)

// Kind names the failure mode within an error family.
type Kind string

// Error kinds persisted alongside failed progress entries.
const (
	KindNoImageFound     Kind = "NoImageFound"
	KindTimeout          Kind = "Timeout"
	KindHTTPStatus       Kind = "HttpStatus"
	KindNetworkFailure   Kind = "NetworkFailure"
	KindInvalidImage     Kind = "InvalidImage"
	KindUnableToCompress Kind = "UnableToCompress"
	KindRejected         Kind = "Rejected"
	KindCorruptStore     Kind = "CorruptStore"
	KindLocked           Kind = "Locked"
	KindWriteFailed      Kind = "WriteFailed"
)

// Sentinels for errors.Is. A sentinel matches any error of the same family
// and kind, regardless of the wrapped cause.
var (
	ErrNoImageFound       = &ExtractionError{Kind: KindNoImageFound}
	ErrExtractionTimeout  = &ExtractionError{Kind: KindTimeout}
	ErrFetchTimeout       = &FetchError{Kind: KindTimeout}
	ErrFetchStatus        = &FetchError{Kind: KindHTTPStatus}
	ErrFetchNetwork       = &FetchError{Kind: KindNetworkFailure}
	ErrInvalidImage       = &ValidationError{Kind: KindInvalidImage}
	ErrUnableToCompress   = &ValidationError{Kind: KindUnableToCompress}
	ErrUploadRejected     = &UploadError{Kind: KindRejected}
	ErrUploadNetwork      = &UploadError{Kind: KindNetworkFailure}
	ErrCorruptStore       = &ProgressError{Kind: KindCorruptStore}
	ErrProgressStoreInUse = &ProgressError{Kind: KindLocked}
	ErrProgressWrite      = &ProgressError{Kind: KindWriteFailed}
)

// ExtractionError is returned when a detail page cannot yield an image.
type ExtractionError struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *ExtractionError) Error() string {
	return describe("extraction", e.Kind, "", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind.
func (e *ExtractionError) Is(target error) bool {
	t, ok := target.(*ExtractionError)
	return ok && t.Err == nil && t.URL == "" && (t.Kind == "" || t.Kind == e.Kind)
}

// FetchError is returned by a single image or page download attempt.
type FetchError struct {
	Kind       Kind
	StatusCode int
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	detail := ""
	if e.Kind == KindHTTPStatus {
		detail = fmt.Sprintf("%d", e.StatusCode)
	}
	return describe("fetch", e.Kind, detail, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind.
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	return ok && t.Err == nil && t.URL == "" && t.StatusCode == 0 && (t.Kind == "" || t.Kind == e.Kind)
}

// ValidationError is returned when a local image cannot be made compliant.
type ValidationError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	return describe("validation", e.Kind, "", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Err == nil && t.Path == "" && (t.Kind == "" || t.Kind == e.Kind)
}

// UploadError is returned when the remote store refuses or cannot be reached.
type UploadError struct {
	Kind Kind
	Err  error
}

func (e *UploadError) Error() string {
	return describe("upload", e.Kind, "", "", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind.
func (e *UploadError) Is(target error) bool {
	t, ok := target.(*UploadError)
	return ok && t.Err == nil && (t.Kind == "" || t.Kind == e.Kind)
}

// ProgressError is fatal: the ledger cannot be trusted or written.
type ProgressError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *ProgressError) Error() string {
	return describe("progress", e.Kind, "", e.Path, e.Err)
}

func (e *ProgressError) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind.
func (e *ProgressError) Is(target error) bool {
	t, ok := target.(*ProgressError)
	return ok && t.Err == nil && t.Path == "" && (t.Kind == "" || t.Kind == e.Kind)
}

func describe(family string, kind Kind, detail, subject string, cause error) string {
	msg := family + " error"
	if kind != "" {
		msg += " (" + string(kind)
		if detail != "" {
			msg += ":" + detail
		}
		msg += ")"
	}
	if subject != "" {
		msg += " " + subject
	}
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return msg
}

// Classify renders the stable label stored in a failed progress entry,
// for example "FetchError(HttpStatus:404)".
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var (
		extractErr  *ExtractionError
		fetchErr    *FetchError
		validateErr *ValidationError
		uploadErr   *UploadError
		progressErr *ProgressError
	)
	switch {
	case errors.As(err, &extractErr):
		return label("ExtractionError", extractErr.Kind, "")
	case errors.As(err, &fetchErr):
		detail := ""
		if fetchErr.Kind == KindHTTPStatus {
			detail = fmt.Sprintf("%d", fetchErr.StatusCode)
		}
		return label("FetchError", fetchErr.Kind, detail)
	case errors.As(err, &validateErr):
		return label("ValidationError", validateErr.Kind, "")
	case errors.As(err, &uploadErr):
		return label("UploadError", uploadErr.Kind, "")
	case errors.As(err, &progressErr):
		return label("ProgressError", progressErr.Kind, "")
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	default:
		return "Error"
	}
}

func label(family string, kind Kind, detail string) string {
	if detail != "" {
		return fmt.Sprintf("%s(%s:%s)", family, kind, detail)
	}
	return fmt.Sprintf("%s(%s)", family, kind)
}
