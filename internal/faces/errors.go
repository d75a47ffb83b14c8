package faces

import (
	"errors"
)

var (
	ErrDetectionUnavailable = errors.New("face detection unavailable")
	ErrDetectionTimeout     = errors.New("face detection timed out")
	ErrPhotoNotFound        = errors.New("photo not found")
	ErrFileMissing          = errors.New("photo file missing")
	ErrRegionNotFound       = errors.New("face region not found")
	ErrPersonNotFound       = errors.New("person not found")
	ErrCrossTenant          = errors.New("person belongs to another user")
)

// Kind groups service errors by how a caller should react to them.
type Kind int

const (
	KindOK Kind = iota
	KindUnavailable
	KindNotFound
	KindForbidden
	KindStorage
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindUnavailable:
		return "unavailable"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindTimeout:
		return "timeout"
	default:
		return "storage"
	}
}

// Retryable reports whether the failed operation may succeed if repeated.
func (k Kind) Retryable() bool {
	return k == KindStorage || k == KindTimeout
}

// KindOf classifies err. Errors that are not one of the package sentinels
// are treated as storage failures.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrDetectionUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrPhotoNotFound),
		errors.Is(err, ErrFileMissing),
		errors.Is(err, ErrRegionNotFound),
		errors.Is(err, ErrPersonNotFound):
		return KindNotFound
	case errors.Is(err, ErrCrossTenant):
		return KindForbidden
	case errors.Is(err, ErrDetectionTimeout):
		return KindTimeout
	default:
		return KindStorage
	}
}
