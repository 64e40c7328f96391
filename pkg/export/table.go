package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Table is the tabular content of an export.
type Table struct {
	Title   string
	Headers []string
	// Widths are relative column weights for PDF output; nil means equal widths.
	Widths []float64
	Rows   [][]string
}

func (t Table) validate() error {
	if len(t.Headers) == 0 {
		return fmt.Errorf("export requires at least one header")
	}
	if t.Widths != nil && len(t.Widths) != len(t.Headers) {
		return fmt.Errorf("export has %d widths for %d headers", len(t.Widths), len(t.Headers))
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Headers) {
			return fmt.Errorf("export row %d has %d cells, want %d", i, len(row), len(t.Headers))
		}
	}
	return nil
}

// CSV renders the table as RFC 4180 CSV.
func CSV(t Table) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(t.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}
