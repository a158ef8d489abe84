package recognizer

import (
	"errors"

	"github.com/example/scandish/internal/catalog"
	"github.com/example/scandish/internal/features"
	"github.com/example/scandish/internal/ppm"
)

// ErrorKind classifies recognition failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindFormat
	KindEmptyImage
	KindInvalidPayload
	KindCatalogLoad
)

func (k ErrorKind) String() string {
	switch k {
	case KindFormat:
		return "format_error"
	case KindEmptyImage:
		return "empty_image"
	case KindInvalidPayload:
		return "invalid_payload"
	case KindCatalogLoad:
		return "catalog_load_error"
	default:
		return "unknown"
	}
}

// Kind returns the category of err. Only KindCatalogLoad is fatal; the
// others are failures of a single request.
func Kind(err error) ErrorKind {
	var (
		formatErr *ppm.FormatError
		loadErr   *catalog.LoadError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &loadErr):
		return KindCatalogLoad
	case errors.As(err, &formatErr):
		return KindFormat
	case errors.Is(err, features.ErrEmptyImage):
		return KindEmptyImage
	case errors.Is(err, ErrInvalidPayload):
		return KindInvalidPayload
	default:
		return KindUnknown
	}
}
