// Package export renders ledger tables as CSV or Excel downloads and
// retirement certificates as PDF.
package export

import (
	"fmt"
	"io"
	"strings"

	"csquare/marketplace/marketplace-backend/internal/apperrors"
)

// Format is a spreadsheet download format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat reads the format query parameter; empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", apperrors.Validation("Export format must be csv or xlsx")
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename returns base with the format's extension.
func (f Format) Filename(base string) string {
	return base + "." + string(f)
}

// Table is one sheet of an export.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// Write renders tables to w. CSV output carries the first table only.
func Write(w io.Writer, f Format, tables ...Table) error {
	if len(tables) == 0 {
		return fmt.Errorf("no tables to export")
	}
	switch f {
	case FormatXLSX:
		exporter := NewExcelExporter(DefaultExcelOptions())
		defer exporter.Close()
		for _, t := range tables {
			if err := exporter.AddTable(t); err != nil {
				return err
			}
		}
		return exporter.WriteTo(w)
	default:
		exporter := NewCSVExporter(w, DefaultCSVOptions())
		if err := exporter.WriteTable(tables[0]); err != nil {
			return err
		}
		return exporter.Flush()
	}
}
