// Package bootstrap turns command line configuration into a scan pipeline.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/coramo123/mail-scanner/internal/address"
	"github.com/coramo123/mail-scanner/internal/scanning"
)

// Config selects and configures every pipeline component
type Config struct {
	VisionProvider      string
	GeminiKey           string
	GeminiModel         string
	OllamaURL           string
	OllamaModel         string
	VisionTimeout       time.Duration
	DisableVision       bool
	BreakerFailures     int
	BreakerOpenTimeout  time.Duration
	OCREngine           string
	OCRLanguage         string
	CloudVisionCredFile string
	DisableOCR          bool
	SmartyAuthID        string
	SmartyAuthToken     string
	SmartyBaseURL       string
	VerifyTimeout       time.Duration
	DisableVerify       bool
	DisableHEIC         bool
	DisablePDF          bool
}

// Flags holds the parsed values of the pipeline flags
type Flags struct {
	visionProvider      *string
	geminiKey           *string
	geminiModel         *string
	ollamaURL           *string
	ollamaModel         *string
	visionTimeout       *int
	disableVision       *bool
	breakerFailures     *int
	breakerOpenSeconds  *int
	ocrEngine           *string
	ocrLanguage         *string
	cloudVisionCredFile *string
	disableOCR          *bool
	smartyAuthID        *string
	smartyAuthToken     *string
	smartyBaseURL       *string
	verifyTimeout       *int
	disableVerify       *bool
	disableHEIC         *bool
	disablePDF          *bool
}

// RegisterFlags adds the pipeline flags to fs
func RegisterFlags(fs *ff.FlagSet) *Flags {
	return &Flags{
		visionProvider:      fs.StringLong("vision", "gemini", "Vision provider: 'gemini' or 'ollama'"),
		geminiKey:           fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:         fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name"),
		ollamaURL:           fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:         fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)"),
		visionTimeout:       fs.IntLong("vision-timeout", 60, "Vision request timeout in seconds"),
		disableVision:       fs.BoolLong("disable-vision", "Skip the vision model and use local OCR only"),
		breakerFailures:     fs.IntLong("breaker-failures", 5, "Consecutive vision failures that open the circuit breaker (0 disables it)"),
		breakerOpenSeconds:  fs.IntLong("breaker-open", 30, "Seconds the vision circuit breaker stays open"),
		ocrEngine:           fs.StringLong("ocr", "tesseract", "Local OCR engine: 'tesseract', 'cloud-vision' or 'none'"),
		ocrLanguage:         fs.StringLong("ocr-lang", "eng", "Tesseract language"),
		cloudVisionCredFile: fs.StringLong("cloud-vision-credentials", "", "Google Cloud credentials file for the cloud-vision OCR engine"),
		disableOCR:          fs.BoolLong("disable-ocr", "Disable the local OCR fallback"),
		smartyAuthID:        fs.StringLong("smarty-auth-id", "", "Smarty auth id (or set SMARTY_AUTH_ID env var)"),
		smartyAuthToken:     fs.StringLong("smarty-auth-token", "", "Smarty auth token (or set SMARTY_AUTH_TOKEN env var)"),
		smartyBaseURL:       fs.StringLong("smarty-url", "", "Smarty US Street API base URL"),
		verifyTimeout:       fs.IntLong("verify-timeout", 10, "Address verification timeout in seconds"),
		disableVerify:       fs.BoolLong("disable-verify", "Skip address verification"),
		disableHEIC:         fs.BoolLong("disable-heic", "Reject HEIC/HEIF images"),
		disablePDF:          fs.BoolLong("disable-pdf", "Reject PDF documents"),
	}
}

// envFallback returns value, or the named environment variable when value is empty
func envFallback(value, name string) string {
	if value != "" {
		return value
	}
	return os.Getenv(name)
}

// Config returns the parsed configuration. Call it after ff.Parse.
func (f *Flags) Config() Config {
	return Config{
		VisionProvider:      strings.ToLower(*f.visionProvider),
		GeminiKey:           envFallback(*f.geminiKey, "GEMINI_API_KEY"),
		GeminiModel:         *f.geminiModel,
		OllamaURL:           *f.ollamaURL,
		OllamaModel:         *f.ollamaModel,
		VisionTimeout:       time.Duration(*f.visionTimeout) * time.Second,
		DisableVision:       *f.disableVision,
		BreakerFailures:     *f.breakerFailures,
		BreakerOpenTimeout:  time.Duration(*f.breakerOpenSeconds) * time.Second,
		OCREngine:           strings.ToLower(*f.ocrEngine),
		OCRLanguage:         *f.ocrLanguage,
		CloudVisionCredFile: *f.cloudVisionCredFile,
		DisableOCR:          *f.disableOCR,
		SmartyAuthID:        envFallback(*f.smartyAuthID, "SMARTY_AUTH_ID"),
		SmartyAuthToken:     envFallback(*f.smartyAuthToken, "SMARTY_AUTH_TOKEN"),
		SmartyBaseURL:       *f.smartyBaseURL,
		VerifyTimeout:       time.Duration(*f.verifyTimeout) * time.Second,
		DisableVerify:       *f.disableVerify,
		DisableHEIC:         *f.disableHEIC,
		DisablePDF:          *f.disablePDF,
	}
}

// Pipeline is a built scan pipeline plus the clients it owns
type Pipeline struct {
	*scanning.Pipeline
	closers []func() error
}

// Close releases every client opened by Build
func (p *Pipeline) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build assembles the pipeline described by cfg. Components that cannot be
// initialized are logged and left out, so a missing vision key falls back to
// local OCR and a missing OCR engine leaves vision only. A nil observer is allowed.
func Build(ctx context.Context, cfg Config, observer scanning.Observer) (*Pipeline, error) {
	p := &Pipeline{}
	opts := []scanning.Option{}

	vision, err := buildVision(ctx, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	if vision != nil {
		opts = append(opts, scanning.WithVision(vision))
		p.closers = append(p.closers, vision.Close)
	}

	ocr, err := buildOCR(ctx, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	if ocr != nil {
		opts = append(opts, scanning.WithLocalOCR(ocr))
		p.closers = append(p.closers, ocr.Close)
	}

	if vision == nil && ocr == nil {
		slog.Warn("No extraction method is available; every scan will fail")
	}

	if !cfg.DisableVerify {
		if cfg.SmartyAuthID == "" || cfg.SmartyAuthToken == "" {
			slog.Warn("Smarty credentials not set; addresses will be reported as not_configured")
		}
		opts = append(opts, scanning.WithVerifier(address.NewSmarty(address.Config{
			AuthID:    cfg.SmartyAuthID,
			AuthToken: cfg.SmartyAuthToken,
			BaseURL:   cfg.SmartyBaseURL,
			Timeout:   cfg.VerifyTimeout,
		})))
	}

	if observer != nil {
		opts = append(opts, scanning.WithObserver(observer))
	}

	loader := scanning.NewImageLoader(!cfg.DisableHEIC, !cfg.DisablePDF)
	p.Pipeline = scanning.NewPipeline(loader, opts...)
	return p, nil
}

func buildVision(ctx context.Context, cfg Config) (*scanning.VisionExtractor, error) {
	if cfg.DisableVision {
		return nil, nil
	}

	var model scanning.VisionModel
	switch cfg.VisionProvider {
	case "gemini":
		if cfg.GeminiKey == "" {
			slog.Warn("Gemini API key not set; vision extraction disabled")
			return nil, nil
		}
		slog.Info("Initializing Gemini vision model...", "model", cfg.GeminiModel)
		gemini, err := scanning.NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		model = gemini
	case "ollama":
		slog.Info("Initializing Ollama vision model...", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		ollama, err := scanning.NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.VisionTimeout)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		model = ollama
	default:
		return nil, fmt.Errorf("invalid vision provider %q: valid values are gemini or ollama", cfg.VisionProvider)
	}

	breaker := scanning.BreakerConfig{OpenTimeout: cfg.BreakerOpenTimeout}
	if cfg.BreakerFailures > 0 {
		breaker.ConsecutiveFailures = uint32(cfg.BreakerFailures)
	}
	return scanning.NewVisionExtractor(model, cfg.VisionTimeout, breaker), nil
}

func buildOCR(ctx context.Context, cfg Config) (*scanning.LocalOCRExtractor, error) {
	if cfg.DisableOCR {
		return nil, nil
	}

	var recognizer scanning.TextRecognizer
	switch cfg.OCREngine {
	case "none", "":
		return nil, nil
	case "tesseract":
		tess, err := scanning.NewTesseract(cfg.OCRLanguage)
		if errors.Is(err, scanning.ErrOCRUnavailable) {
			slog.Warn("Tesseract not available; local OCR fallback disabled", "error", err)
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("initializing tesseract: %w", err)
		}
		recognizer = tess
	case "cloud-vision":
		cv, err := scanning.NewCloudVision(ctx, cfg.CloudVisionCredFile)
		if err != nil {
			return nil, fmt.Errorf("initializing cloud vision: %w", err)
		}
		recognizer = cv
	default:
		return nil, fmt.Errorf("invalid OCR engine %q: valid values are tesseract, cloud-vision or none", cfg.OCREngine)
	}

	slog.Info("Local OCR fallback enabled", "engine", recognizer.Name())
	return scanning.NewLocalOCRExtractor(recognizer), nil
}
