package scanning

import "strings"

// Method identifies which extractor produced the raw fields of a record
type Method string

const (
	MethodVision   Method = "vision"
	MethodLocalOCR Method = "local_ocr"
)

// Mail categories the vision model may assign
const (
	CategoryWeddingInvitation      = "Wedding Invitation"
	CategoryGraduationAnnouncement = "Graduation Announcement"
	CategoryBabyAnnouncement       = "Baby Announcement"
	CategoryFanLetters             = "Fan Letters"
	CategoryOther                  = "Other"
)

// Categories lists the closed set of mail categories in prompt order
var Categories = []string{
	CategoryGraduationAnnouncement,
	CategoryWeddingInvitation,
	CategoryBabyAnnouncement,
	CategoryFanLetters,
	CategoryOther,
}

// Fields contains the raw values produced by an extractor.
// A nil pointer means the value was not found.
type Fields struct {
	SenderName *string `json:"sender_name"`
	Street     *string `json:"street"`
	City       *string `json:"city"`
	State      *string `json:"state"`
	Zip        *string `json:"zip"`
	Category   *string `json:"category"`
}

// Address returns the address components of the fields
func (f Fields) Address() Address {
	return Address{
		Street: deref(f.Street),
		City:   deref(f.City),
		State:  deref(f.State),
		Zip:    deref(f.Zip),
	}
}

// Address is the input to address verification. Empty strings are absent components.
type Address struct {
	Street string
	City   string
	State  string
	Zip    string
}

// ScanRecord is the result of processing one mail image
type ScanRecord struct {
	SenderName  *string `json:"sender_name"`
	Street      *string `json:"street"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	Zip         *string `json:"zip"`
	FullAddress *string `json:"full_address"`
	Category    *string `json:"category"`
	Method      Method  `json:"method"`
	VerificationOutcome
}

// NewScanRecord builds a record from extracted fields. FullAddress is derived
// from the address components and verification starts as not attempted.
func NewScanRecord(fields Fields, method Method) ScanRecord {
	return ScanRecord{
		SenderName:          fields.SenderName,
		Street:              fields.Street,
		City:                fields.City,
		State:               fields.State,
		Zip:                 fields.Zip,
		FullAddress:         FullAddress(fields.Street, fields.City, fields.State, fields.Zip),
		Category:            fields.Category,
		Method:              method,
		VerificationOutcome: Outcome(StatusNotAttempted),
	}
}

// Fields returns the raw extracted fields of the record
func (r ScanRecord) Fields() Fields {
	return Fields{
		SenderName: r.SenderName,
		Street:     r.Street,
		City:       r.City,
		State:      r.State,
		Zip:        r.Zip,
		Category:   r.Category,
	}
}

// WithVerification returns a copy of the record carrying the given outcome
func (r ScanRecord) WithVerification(outcome VerificationOutcome) ScanRecord {
	r.VerificationOutcome = outcome
	return r
}

// FullAddress joins the non-empty components with ", ".
// Returns nil when every component is empty.
func FullAddress(street, city, state, zip *string) *string {
	parts := make([]string, 0, 4)
	for _, p := range []*string{street, city, state, zip} {
		if v := deref(p); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return StringPtr(strings.Join(parts, ", "))
}

// StringPtr returns a pointer to s, or nil if s is empty after trimming
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
