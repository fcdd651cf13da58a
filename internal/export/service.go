package export

import (
	"context"
	"fmt"
	"time"
)

// Service renders departure sheets and registers.
type Service struct {
	renderPDF func(ctx context.Context, html string) ([]byte, error)
	now       func() time.Time
}

// NewService creates an export service that prints PDFs with headless Chrome.
func NewService() *Service {
	return &Service{renderPDF: chromePDF, now: time.Now}
}

// Sheet exports a single departure sheet as HTML or PDF.
func (s *Service) Sheet(ctx context.Context, view SheetView, format Format) (*Result, error) {
	html, err := RenderSheetHTML(view)
	if err != nil {
		return nil, fmt.Errorf("render sheet %d: %w", view.Number, err)
	}
	name := sanitizeFilename(fmt.Sprintf("hoja-salida-%d", view.Number))

	switch format {
	case FormatHTML:
		return &Result{Data: []byte(html), Filename: name + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		data, err := s.renderPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: name + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Register exports a list of sheets as an XLSX workbook.
func (s *Service) Register(title string, rows []RegisterRow) (*Result, error) {
	generated := s.now()
	data, err := buildRegister(title, generated, rows)
	if err != nil {
		return nil, fmt.Errorf("build register: %w", err)
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(title) + "-" + generated.Format("20060102") + ".xlsx",
		MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}, nil
}
