package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Dataset is an ordered table destined for download. Cells are addressed by
// header name; a row missing a header renders an empty cell so exports stay
// rectangular.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// AppendRow adds one record to the dataset.
func (d *Dataset) AppendRow(cells map[string]string) {
	d.Rows = append(d.Rows, cells)
}

// CSVExporter renders datasets into CSV bytes suitable for an attachment
// response.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render encodes the dataset. Header order fixes column order.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv export needs at least one column")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write header row: %w", err)
	}
	record := make([]string, len(data.Headers))
	for _, row := range data.Rows {
		for i, h := range data.Headers {
			record[i] = row[h]
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
