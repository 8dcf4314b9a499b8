package scanning

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an image path does not exist
	ErrNotFound = errors.New("image file not found")

	// ErrUnsupportedFormat is returned when image data cannot be decoded
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrExtractionUnavailable is returned when no extractor could process an image
	ErrExtractionUnavailable = errors.New("no extraction method available")

	// ErrVisionUnavailable is returned when the vision model call fails
	ErrVisionUnavailable = errors.New("vision model unavailable")

	// ErrOCRUnavailable is returned when no local text recognition engine can be used
	ErrOCRUnavailable = errors.New("local OCR engine unavailable")
)

// ScanError wraps an extractor failure with the operation that produced it
type ScanError struct {
	Op  string
	Err error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}
