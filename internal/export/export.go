// Package export writes scan results as CSV, XLSX and printable label sheets.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNoRows is returned when there is nothing to export
var ErrNoRows = errors.New("no results to export")

// Row is one exported scan result
type Row struct {
	Filename            string
	SenderName          string
	Street              string
	City                string
	State               string
	Zip                 string
	FullAddress         string
	Category            string
	VerificationStatus  string
	Verified            bool
	VerifiedStreet      string
	VerifiedCity        string
	VerifiedState       string
	VerifiedZip         string
	VerifiedFullAddress string
	UploadedAt          time.Time
}

// Columns is the header of spreadsheet exports
var Columns = []string{
	"filename",
	"sender_name",
	"street",
	"city",
	"state",
	"zip",
	"full_address",
	"category",
	"verification_status",
	"verified_full_address",
	"uploaded_at",
}

func (r Row) values() []string {
	uploaded := ""
	if !r.UploadedAt.IsZero() {
		uploaded = r.UploadedAt.Format(time.RFC3339)
	}
	return []string{
		r.Filename,
		r.SenderName,
		r.Street,
		r.City,
		r.State,
		r.Zip,
		r.FullAddress,
		r.Category,
		r.VerificationStatus,
		r.VerifiedFullAddress,
		uploaded,
	}
}

// WriteCSV writes rows as CSV with a header line
func WriteCSV(w io.Writer, rows []Row) error {
	if len(rows) == 0 {
		return ErrNoRows
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row.values()); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
