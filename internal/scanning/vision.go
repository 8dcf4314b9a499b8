package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// VisionModel sends an image and a prompt to a hosted multimodal model
type VisionModel interface {
	// Generate returns the model's free-text reply
	Generate(ctx context.Context, pngData []byte, prompt string) (string, error)
	// Name identifies the provider in logs and errors
	Name() string
	// Close releases the client
	Close() error
}

// BreakerConfig controls the circuit breaker guarding the vision model
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker; zero disables the breaker
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns the breaker settings used when none are configured
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// VisionExtractor extracts fields with a VisionModel
type VisionExtractor struct {
	model   VisionModel
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[string]
}

// NewVisionExtractor wraps model. A zero timeout means the caller's context decides.
func NewVisionExtractor(model VisionModel, timeout time.Duration, cfg BreakerConfig) *VisionExtractor {
	v := &VisionExtractor{
		model:   model,
		timeout: timeout,
	}
	if cfg.ConsecutiveFailures > 0 {
		v.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        "vision." + model.Name(),
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			IsSuccessful: func(err error) bool {
				// Callers giving up is not the model's fault
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				slog.Warn("Vision circuit breaker state change", "model", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return v
}

// Extract sends img to the model and parses the reply. A malformed reply yields
// empty Fields and no error; only a failed model call returns an error, which
// wraps ErrVisionUnavailable.
func (v *VisionExtractor) Extract(ctx context.Context, img *Image) (Fields, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	call := func() (string, error) {
		return v.model.Generate(ctx, img.PNG, mailScanPrompt)
	}

	var (
		text string
		err  error
	)
	if v.breaker != nil {
		text, err = v.breaker.Execute(call)
	} else {
		text, err = call()
	}
	if err != nil {
		return Fields{}, &ScanError{
			Op:  "vision." + v.model.Name(),
			Err: fmt.Errorf("%w: %w", ErrVisionUnavailable, err),
		}
	}

	fields, err := parseMailJSON(text)
	if err != nil {
		slog.Warn("Failed to parse vision model response",
			"model", v.model.Name(),
			"error", err,
			"response", text,
		)
		return Fields{}, nil
	}
	return fields, nil
}

// Close closes the underlying model client
func (v *VisionExtractor) Close() error {
	return v.model.Close()
}
