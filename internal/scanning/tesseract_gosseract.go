//go:build gosseract

package scanning

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements TextRecognizer with libtesseract linked in via cgo.
// Build with -tags gosseract; libtesseract and leptonica headers are required.
type Tesseract struct {
	language string
}

// NewTesseract creates an in-process tesseract recognizer
func NewTesseract(language string) (TextRecognizer, error) {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{language: language}, nil
}

// Name returns the engine name
func (t *Tesseract) Name() string {
	return "tesseract"
}

// Recognize runs OCR on the image. A gosseract client is not safe for
// concurrent use, so every call gets its own.
func (t *Tesseract) Recognize(ctx context.Context, pngData []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("setting tesseract language: %w", err)
	}
	if err := client.SetImageFromBytes(pngData); err != nil {
		return "", fmt.Errorf("loading image into tesseract: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("running tesseract: %w", err)
	}
	return text, nil
}

// Close is a no-op; clients are per call
func (t *Tesseract) Close() error {
	return nil
}
