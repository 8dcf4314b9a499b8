// Package address verifies US postal addresses against the Smarty US Street API.
package address

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coramo123/mail-scanner/internal/scanning"
)

const defaultBaseURL = "https://us-street.api.smarty.com"

// Config holds Smarty credentials and transport settings
type Config struct {
	AuthID    string
	AuthToken string
	BaseURL   string
	Timeout   time.Duration
}

// Smarty implements scanning.Verifier
type Smarty struct {
	authID    string
	authToken string
	baseURL   string
	client    *http.Client
}

// NewSmarty creates a verifier. Missing credentials are allowed; Verify then
// reports not_configured.
func NewSmarty(cfg Config) *Smarty {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Smarty{
		authID:    cfg.AuthID,
		authToken: cfg.AuthToken,
		baseURL:   cfg.BaseURL,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

type candidate struct {
	DeliveryLine1 string `json:"delivery_line_1"`
	Components    struct {
		CityName          string `json:"city_name"`
		StateAbbreviation string `json:"state_abbreviation"`
		ZIPCode           string `json:"zipcode"`
		Plus4Code         string `json:"plus4_code"`
	} `json:"components"`
	Analysis struct {
		DPVMatchCode string `json:"dpv_match_code"`
	} `json:"analysis"`
}

// Verify looks up the address and maps the best candidate to an outcome
func (s *Smarty) Verify(ctx context.Context, addr scanning.Address) scanning.VerificationOutcome {
	if addr.Street == "" {
		return scanning.Outcome(scanning.StatusInsufficientData)
	}
	if s.authID == "" || s.authToken == "" {
		return scanning.Outcome(scanning.StatusNotConfigured)
	}

	candidates, err := s.lookup(ctx, addr)
	if err != nil {
		slog.Error("Address verification failed", "street", addr.Street, "error", err)
		return scanning.Outcome(scanning.StatusError)
	}
	if len(candidates) == 0 {
		return scanning.Outcome(scanning.StatusInvalid)
	}
	return candidateOutcome(candidates[0])
}

func (s *Smarty) lookup(ctx context.Context, addr scanning.Address) ([]candidate, error) {
	q := url.Values{}
	q.Set("auth-id", s.authID)
	q.Set("auth-token", s.authToken)
	q.Set("street", addr.Street)
	q.Set("city", addr.City)
	q.Set("state", addr.State)
	q.Set("zipcode", addr.Zip)
	q.Set("candidates", "1")
	// Only return a candidate when the address is deliverable
	q.Set("match", "strict")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/street-address?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling smarty API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("smarty API error (status %d): %s", resp.StatusCode, string(body))
	}

	var candidates []candidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return candidates, nil
}

func candidateOutcome(c candidate) scanning.VerificationOutcome {
	zip := c.Components.ZIPCode
	if c.Components.Plus4Code != "" {
		zip = zip + "-" + c.Components.Plus4Code
	}
	return scanning.CandidateOutcome(
		dpvStatus(c.Analysis.DPVMatchCode),
		c.DeliveryLine1,
		c.Components.CityName,
		c.Components.StateAbbreviation,
		zip,
	)
}

// dpvStatus maps a delivery point validation code to a status.
// D (secondary number missing) and S (secondary number not confirmed) both
// resolve to a deliverable building.
func dpvStatus(code string) scanning.VerificationStatus {
	switch code {
	case "Y":
		return scanning.StatusVerified
	case "D", "S":
		return scanning.StatusVerifiedMissingSecondary
	default:
		return scanning.StatusFailed
	}
}
