package scanning

import (
	"context"
	"fmt"
)

// VerificationStatus is the result of an address verification attempt
type VerificationStatus string

const (
	StatusVerified                 VerificationStatus = "verified"
	StatusVerifiedMissingSecondary VerificationStatus = "verified_missing_secondary"
	StatusInvalid                  VerificationStatus = "invalid"
	StatusFailed                   VerificationStatus = "failed"
	StatusInsufficientData         VerificationStatus = "insufficient_data"
	StatusNotConfigured            VerificationStatus = "not_configured"
	StatusNotAttempted             VerificationStatus = "not_attempted"
	StatusError                    VerificationStatus = "error"
)

// VerificationOutcome is the normalized response of an address verifier
type VerificationOutcome struct {
	Status              VerificationStatus `json:"verification_status"`
	Verified            *bool              `json:"verified"`
	VerifiedStreet      *string            `json:"verified_street"`
	VerifiedCity        *string            `json:"verified_city"`
	VerifiedState       *string            `json:"verified_state"`
	VerifiedZip         *string            `json:"verified_zip"`
	VerifiedFullAddress *string            `json:"verified_full_address"`
}

// Verifier checks extracted address components against a postal service
type Verifier interface {
	Verify(ctx context.Context, addr Address) VerificationOutcome
}

// Outcome returns an outcome with the given status and no verified components.
// Statuses that reflect a verification answer carry verified=false; statuses
// where no answer was obtained leave it null.
func Outcome(status VerificationStatus) VerificationOutcome {
	o := VerificationOutcome{Status: status}
	switch status {
	case StatusInvalid, StatusFailed, StatusError:
		o.Verified = boolPtr(false)
	case StatusVerified, StatusVerifiedMissingSecondary:
		o.Verified = boolPtr(true)
	}
	return o
}

// CandidateOutcome builds an outcome from a verified candidate address.
// The status decides whether Verified is true.
func CandidateOutcome(status VerificationStatus, street, city, state, zip string) VerificationOutcome {
	o := Outcome(status)
	if o.Verified == nil {
		o.Verified = boolPtr(false)
	}
	o.VerifiedStreet = StringPtr(street)
	o.VerifiedCity = StringPtr(city)
	o.VerifiedState = StringPtr(state)
	o.VerifiedZip = StringPtr(zip)
	o.VerifiedFullAddress = StringPtr(fmt.Sprintf("%s, %s, %s %s", street, city, state, zip))
	return o
}

// IsVerified reports whether the outcome represents a deliverable address
func (o VerificationOutcome) IsVerified() bool {
	return o.Status == StatusVerified || o.Status == StatusVerifiedMissingSecondary
}

func boolPtr(b bool) *bool {
	return &b
}
