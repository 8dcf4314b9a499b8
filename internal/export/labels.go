package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
)

// Avery 5160 compatible label sheet on US Letter, in points
const (
	pointsPerInch = 72.0
	labelWidth    = 2.625 * pointsPerInch
	labelHeight   = 1.0 * pointsPerInch
	leftMargin    = 0.1875 * pointsPerInch
	topMargin     = 0.5 * pointsPerInch
	labelColumns  = 3
	labelRows     = 10
	// LabelsPerPage is the number of labels on one sheet
	LabelsPerPage = labelColumns * labelRows

	fontSize   = 10
	lineHeight = 12
	textInset  = 5
)

// LabelSlot is where a label sits on its sheet
type LabelSlot struct {
	Page int     // zero-based sheet number
	X    float64 // left edge in points
	Y    float64 // top edge in points, measured from the top of the page
}

// SlotFor returns the position of the label with the given index
func SlotFor(index int) LabelSlot {
	onPage := index % LabelsPerPage
	col := onPage % labelColumns
	row := onPage / labelColumns
	return LabelSlot{
		Page: index / LabelsPerPage,
		X:    leftMargin + float64(col)*labelWidth,
		Y:    topMargin + float64(row)*labelHeight,
	}
}

// LabelLines returns the printed lines of an address label. The verified
// address is preferred when verification succeeded.
func LabelLines(r Row) []string {
	street, city, state, zip := r.Street, r.City, r.State, r.Zip
	if r.Verified && r.VerifiedStreet != "" {
		street, city, state, zip = r.VerifiedStreet, r.VerifiedCity, r.VerifiedState, r.VerifiedZip
	}

	var lines []string
	if r.SenderName != "" {
		lines = append(lines, r.SenderName)
	}
	if street != "" {
		lines = append(lines, street)
	}

	var cityStateZip []string
	for _, part := range []string{city, state, zip} {
		if part != "" {
			cityStateZip = append(cityStateZip, part)
		}
	}
	if len(cityStateZip) > 0 {
		lines = append(lines, strings.Join(cityStateZip, ", "))
	}
	return lines
}

// WriteLabels renders rows onto label sheets, starting a new page every 30 labels
func WriteLabels(w io.Writer, rows []Row) error {
	if len(rows) == 0 {
		return ErrNoRows
	}

	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Helvetica", "", fontSize)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for i, row := range rows {
		slot := SlotFor(i)
		if i%LabelsPerPage == 0 {
			pdf.AddPage()
		}

		lines := LabelLines(row)
		// Center the block vertically; y is the baseline of each line
		textHeight := float64(len(lines) * lineHeight)
		firstBaseline := slot.Y + (labelHeight-textHeight)/2 + lineHeight
		for j, line := range lines {
			pdf.Text(slot.X+textInset, firstBaseline+float64(j*lineHeight), tr(line))
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("writing label pdf: %w", err)
	}
	return nil
}
