package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
	// Numeric lists headers rendered right-aligned in PDFs.
	Numeric map[string]bool
	// Footer is an optional closing row, e.g. totals.
	Footer map[string]string
}

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct {
	comma rune
}

// NewCSVExporter builds a CSV exporter. A zero comma keeps the default ','; spreadsheet
// users in pt-BR locales expect ';'.
func NewCSVExporter(comma rune) *CSVExporter {
	if comma == 0 {
		comma = ','
	}
	return &CSVExporter{comma: comma}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	writer.Comma = e.comma
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	rows := data.Rows
	if data.Footer != nil {
		rows = append(append([]map[string]string{}, rows...), data.Footer)
	}
	for _, row := range rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
