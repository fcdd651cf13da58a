// Package export renders submitted departure sheets as printable HTML or
// PDF, and lists of sheets as an XLSX register.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts the printable formats; empty means pdf.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// SheetView is everything printed on a single departure sheet.
type SheetView struct {
	Number           int64
	CompanyName      string
	Platform         string
	PilotName        string
	Plate            string
	OdometerReading  int64
	HasOdometerPhoto bool
	FuelPercentage   int
	FuelVoucherID    *int64
	Notes            string
	PhotoCount       int
	CreatedBy        string
	CreatedAt        time.Time
	Reviews          []ReviewView
}

// ReviewView is one reviewed checklist line.
type ReviewView struct {
	Code        string
	Description string
	Annotation  string
	HasPhoto    bool
}

// RegisterRow is one line of the sheet register workbook.
type RegisterRow struct {
	Number          int64
	CreatedAt       time.Time
	Platform        string
	Plate           string
	PilotName       string
	OdometerReading int64
	FuelPercentage  int
	ReviewedItems   int
	CreatedBy       string
	Notes           string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUnsupportedFormat is returned for formats a sheet cannot be exported as.
	ErrUnsupportedFormat = errors.New("export format not supported")
)
