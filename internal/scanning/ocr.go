package scanning

import (
	"context"
	"regexp"
	"strings"
)

// TextRecognizer turns an image into raw text
type TextRecognizer interface {
	Recognize(ctx context.Context, pngData []byte) (string, error)
	Name() string
	Close() error
}

var (
	zipPattern       = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)
	cityStatePattern = regexp.MustCompile(`([^,]+),\s*([A-Z]{2})\s*\d{5}`)
)

// LocalOCRExtractor extracts fields from recognized text with simple line heuristics.
// It is much less accurate than the vision model and never classifies mail.
type LocalOCRExtractor struct {
	recognizer TextRecognizer
}

// NewLocalOCRExtractor creates an extractor backed by recognizer
func NewLocalOCRExtractor(recognizer TextRecognizer) *LocalOCRExtractor {
	return &LocalOCRExtractor{recognizer: recognizer}
}

// Extract recognizes text in img and parses address fields out of it
func (e *LocalOCRExtractor) Extract(ctx context.Context, img *Image) (Fields, error) {
	text, err := e.recognizer.Recognize(ctx, img.PNG)
	if err != nil {
		return Fields{}, &ScanError{Op: "ocr." + e.recognizer.Name(), Err: err}
	}
	return parseAddressText(text), nil
}

// Close closes the underlying recognizer
func (e *LocalOCRExtractor) Close() error {
	return e.recognizer.Close()
}

// parseAddressText parses address information from raw OCR text.
// Line 0 is taken as the name and line 1 as the street; the first line with a
// ZIP code sets zip, and city/state when it reads "City, ST 12345".
func parseAddressText(text string) Fields {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	var fields Fields
	for _, line := range lines {
		zip := zipPattern.FindString(line)
		if zip == "" {
			continue
		}
		fields.Zip = StringPtr(zip)
		if m := cityStatePattern.FindStringSubmatch(line); m != nil {
			fields.City = StringPtr(m[1])
			fields.State = StringPtr(m[2])
		}
		break
	}

	if len(lines) > 0 {
		fields.SenderName = StringPtr(lines[0])
	}
	if len(lines) > 1 {
		fields.Street = StringPtr(lines[1])
	}
	return fields
}
