package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
	"github.com/noah-isme/dance-school-api/pkg/export"
)

// Export formats accepted by ExportPayments.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type paymentExportSource interface {
	ListAll(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string, generatedAt time.Time) ([]byte, error)
}

// ExportFile is a rendered report ready to be sent as an attachment.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders payment reports.
type ExportService struct {
	payments paymentExportSource
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
	now      func() time.Time
}

// NewExportService constructs ExportService.
func NewExportService(payments paymentExportSource, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{payments: payments, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

var paymentExportHeaders = []string{"Student", "Class", "Description", "Due date", "Status", "Method", "Paid at", "Amount"}

// ExportPayments renders every payment matching filter as CSV or PDF, with a total row.
func (s *ExportService) ExportPayments(ctx context.Context, filter models.PaymentFilter, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid payment status")
	}

	payments, err := s.payments.ListAll(ctx, filter)
	if err != nil {
		return nil, internalError(err, "failed to load payments")
	}
	dataset := paymentDataset(payments)

	generatedAt := s.now().UTC()
	stamp := generatedAt.Format("20060102-150405")
	var file *ExportFile
	switch format {
	case ExportFormatPDF:
		body, err := s.pdf.Render(dataset, "Payments report", generatedAt)
		if err != nil {
			return nil, internalError(err, "failed to render pdf")
		}
		file = &ExportFile{Filename: fmt.Sprintf("payments-%s.pdf", stamp), ContentType: "application/pdf", Body: body}
	default:
		body, err := s.csv.Render(dataset)
		if err != nil {
			return nil, internalError(err, "failed to render csv")
		}
		file = &ExportFile{Filename: fmt.Sprintf("payments-%s.csv", stamp), ContentType: "text/csv", Body: body}
	}
	s.logger.Info("payments exported", zap.String("format", format), zap.Int("rows", len(payments)))
	return file, nil
}

func paymentDataset(payments []models.PaymentDetail) export.Dataset {
	rows := make([]map[string]string, 0, len(payments))
	total := decimal.Zero
	for _, p := range payments {
		className := ""
		if p.ClassName != nil {
			className = *p.ClassName
		}
		paidAt := ""
		if p.PaidAt != nil {
			paidAt = p.PaidAt.Format(dateLayout)
		}
		if p.Status != models.PaymentStatusCancelled {
			total = total.Add(p.Amount)
		}
		rows = append(rows, map[string]string{
			"Student":     p.StudentName,
			"Class":       className,
			"Description": p.Description,
			"Due date":    p.DueDate.Format(dateLayout),
			"Status":      string(p.Status),
			"Method":      string(p.Method),
			"Paid at":     paidAt,
			"Amount":      p.Amount.StringFixed(2),
		})
	}
	return export.Dataset{
		Headers: paymentExportHeaders,
		Rows:    rows,
		Numeric: map[string]bool{"Amount": true},
		Footer:  map[string]string{"Student": "Total", "Amount": total.StringFixed(2)},
	}
}
