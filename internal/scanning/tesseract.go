//go:build !gosseract

package scanning

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Tesseract implements TextRecognizer by running the tesseract command line tool
type Tesseract struct {
	binary   string
	language string
}

// NewTesseract locates the tesseract binary on PATH. It returns an error
// wrapping ErrOCRUnavailable when the engine is not installed.
func NewTesseract(language string) (TextRecognizer, error) {
	if language == "" {
		language = "eng"
	}
	binary, err := exec.LookPath("tesseract")
	if err != nil {
		return nil, fmt.Errorf("%w: tesseract binary not found: %v", ErrOCRUnavailable, err)
	}
	return &Tesseract{binary: binary, language: language}, nil
}

// Name returns the engine name
func (t *Tesseract) Name() string {
	return "tesseract"
}

// Recognize pipes the image through tesseract and returns the recognized text
func (t *Tesseract) Recognize(ctx context.Context, pngData []byte) (string, error) {
	cmd := exec.CommandContext(ctx, t.binary, "stdin", "stdout", "-l", t.language)
	cmd.Stdin = bytes.NewReader(pngData)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("running tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Close is a no-op; every call starts its own process
func (t *Tesseract) Close() error {
	return nil
}
