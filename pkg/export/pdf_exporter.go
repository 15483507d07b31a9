package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders datasets into a landscape tabular PDF.
type PDFExporter struct {
	schoolName string
}

// NewPDFExporter constructs a PDF exporter whose header carries schoolName.
func NewPDFExporter(schoolName string) *PDFExporter {
	return &PDFExporter{schoolName: schoolName}
}

// Render creates a PDF document with a title, a generation stamp and the table body.
func (e *PDFExporter) Render(data Dataset, title string, generatedAt time.Time) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 12, 10)
	pdf.AddPage()

	if e.schoolName != "" {
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 5, tr(e.schoolName), "", 1, "L", false, 0, "")
	}
	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(title)), "", 1, "C", false, 0, "")
	}
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 5, generatedAt.Format("02/01/2006 15:04"), "", 1, "R", false, 0, "")
	pdf.Ln(3)

	colWidth := 277.0 / float64(len(data.Headers))
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		e.writeRow(pdf, tr, data, row, colWidth)
	}
	if data.Footer != nil {
		pdf.SetFont("Arial", "B", 8)
		e.writeRow(pdf, tr, data, data.Footer, colWidth)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) writeRow(pdf *gofpdf.Fpdf, tr func(string) string, data Dataset, row map[string]string, colWidth float64) {
	for _, header := range data.Headers {
		align := "L"
		if data.Numeric[header] {
			align = "R"
		}
		pdf.CellFormat(colWidth, 7, tr(row[header]), "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}
