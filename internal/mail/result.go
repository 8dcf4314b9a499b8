package mail

import (
	"time"

	"github.com/coramo123/mail-scanner/internal/export"
	"github.com/coramo123/mail-scanner/internal/scanning"
)

// Result is a stored scan of one uploaded mail image
type Result struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Filename    string `json:"filename"`
	StoredFile  string `json:"stored_file"`
	ContentType string `json:"content_type"`
	scanning.ScanRecord
	UploadedAt time.Time `json:"uploaded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ExportRow converts the result for spreadsheet and label exports
func (r *Result) ExportRow() export.Row {
	return export.Row{
		Filename:            r.Filename,
		SenderName:          str(r.SenderName),
		Street:              str(r.Street),
		City:                str(r.City),
		State:               str(r.State),
		Zip:                 str(r.Zip),
		FullAddress:         str(r.FullAddress),
		Category:            str(r.Category),
		VerificationStatus:  string(r.Status),
		Verified:            r.IsVerified(),
		VerifiedStreet:      str(r.VerifiedStreet),
		VerifiedCity:        str(r.VerifiedCity),
		VerifiedState:       str(r.VerifiedState),
		VerifiedZip:         str(r.VerifiedZip),
		VerifiedFullAddress: str(r.VerifiedFullAddress),
		UploadedAt:          r.UploadedAt,
	}
}

// BatchResult summarizes one multi-file upload
type BatchResult struct {
	ScannedCount int       `json:"scanned_count"`
	TotalFiles   int       `json:"total_files"`
	TotalResults int       `json:"total_results"`
	Results      []*Result `json:"results"`
	Errors       []string  `json:"errors,omitempty"`
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
