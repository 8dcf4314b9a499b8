package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Extractor produces raw fields from a decoded image
type Extractor interface {
	Extract(ctx context.Context, img *Image) (Fields, error)
}

// Observer is notified after every scan
type Observer interface {
	ObserveScan(record *ScanRecord, duration time.Duration, err error)
}

// Pipeline loads an image, extracts sender fields and verifies the address.
// It holds no per-scan state and is safe for concurrent use.
type Pipeline struct {
	loader   *ImageLoader
	vision   Extractor
	ocr      Extractor
	verifier Verifier
	observer Observer
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithVision enables the vision extractor
func WithVision(e Extractor) Option {
	return func(p *Pipeline) { p.vision = e }
}

// WithLocalOCR enables the local OCR fallback
func WithLocalOCR(e Extractor) Option {
	return func(p *Pipeline) { p.ocr = e }
}

// WithVerifier enables address verification
func WithVerifier(v Verifier) Option {
	return func(p *Pipeline) { p.verifier = v }
}

// WithObserver registers a scan observer
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// NewPipeline creates a Pipeline. Components left out are disabled.
func NewPipeline(loader *ImageLoader, opts ...Option) *Pipeline {
	p := &Pipeline{loader: loader}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type scanOptions struct {
	skipVerify bool
}

// ScanOption adjusts a single scan
type ScanOption func(*scanOptions)

// WithoutVerification skips address verification for this scan
func WithoutVerification() ScanOption {
	return func(o *scanOptions) { o.skipVerify = true }
}

// Scan processes one image into a ScanRecord
func (p *Pipeline) Scan(ctx context.Context, src Source, opts ...ScanOption) (*ScanRecord, error) {
	var so scanOptions
	for _, opt := range opts {
		opt(&so)
	}

	start := time.Now()
	record, err := p.scan(ctx, src, so)
	if p.observer != nil {
		p.observer.ObserveScan(record, time.Since(start), err)
	}
	return record, err
}

func (p *Pipeline) scan(ctx context.Context, src Source, so scanOptions) (*ScanRecord, error) {
	img, err := p.loader.Load(src)
	if err != nil {
		return nil, fmt.Errorf("loading image: %w", err)
	}

	fields, method, err := p.extract(ctx, img)
	if err != nil {
		return nil, err
	}

	record := NewScanRecord(fields, method)
	if !so.skipVerify {
		record = p.Verify(ctx, record)
	}

	slog.Debug("Scanned mail",
		"name", src.Name,
		"method", record.Method,
		"category", deref(record.Category),
		"verification_status", record.Status,
	)
	return &record, nil
}

func (p *Pipeline) extract(ctx context.Context, img *Image) (Fields, Method, error) {
	var visionErr error
	if p.vision != nil {
		fields, err := p.vision.Extract(ctx, img)
		if err == nil {
			return fields, MethodVision, nil
		}
		if p.ocr == nil {
			return Fields{}, "", fmt.Errorf("%w: %w", ErrExtractionUnavailable, err)
		}
		slog.Warn("Vision extraction failed, falling back to local OCR", "error", err)
		visionErr = err
	}

	if p.ocr == nil {
		return Fields{}, "", ErrExtractionUnavailable
	}

	fields, err := p.ocr.Extract(ctx, img)
	if err != nil {
		if visionErr != nil {
			return Fields{}, "", fmt.Errorf("%w: %v; %w", ErrExtractionUnavailable, visionErr, err)
		}
		return Fields{}, "", fmt.Errorf("%w: %w", ErrExtractionUnavailable, err)
	}
	return fields, MethodLocalOCR, nil
}

// Verify returns a copy of record with a fresh verification outcome.
// Records without a street are never sent to the verifier.
func (p *Pipeline) Verify(ctx context.Context, record ScanRecord) ScanRecord {
	if p.verifier == nil {
		return record.WithVerification(Outcome(StatusNotAttempted))
	}
	if deref(record.Street) == "" {
		return record.WithVerification(Outcome(StatusInsufficientData))
	}
	return record.WithVerification(p.verifier.Verify(ctx, record.Fields().Address()))
}
