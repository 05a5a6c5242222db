// Package export renders saved analyses as downloadable documents.
package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/store"
)

// Format is an export file format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a query value to a Format. Unknown formats wrap
// pipeline.ErrInput.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatPDF, "":
		return FormatPDF, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: unsupported export format %q", pipeline.ErrInput, s)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/pdf"
}

// FileName returns the download name for an analysis file.
func (f Format) FileName(analysisFile string) string {
	return strings.TrimSuffix(analysisFile, ".json") + "." + string(f)
}

// Build renders saved in format f.
func Build(saved *store.Saved, f Format) ([]byte, error) {
	switch f {
	case FormatPDF:
		return BuildAnalysisPDF(saved)
	case FormatXLSX:
		return BuildAnalysisXLSX(saved)
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", pipeline.ErrInput, f)
	}
}

// BuildAnalysisPDF renders the period summaries, transactions and report of
// a saved analysis.
func BuildAnalysisPDF(saved *store.Saved) ([]byte, error) {
	res, err := saved.Result()
	if err != nil {
		return nil, fmt.Errorf("BuildAnalysisPDF: %w", err)
	}
	totals := pipeline.ComputeTotals(res.Transactions)

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, "Statement Analysis")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Bank: %s", saved.BankName)))
	pdf.Ln(5)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Statement date: %s", saved.StatementDate)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total income: %s", totals.Income.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total expenses: %s", totals.Expenses.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Net: %s", totals.Net.StringFixed(2)))
	pdf.Ln(5)
	if totals.Degraded > 0 {
		pdf.Cell(0, 6, fmt.Sprintf("Periods that could not be read: %d", totals.Degraded))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Period", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Income", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Expenses", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Largest", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, period := range res.Transactions.Periods() {
		rec, _ := res.Transactions.Get(period)
		pdf.CellFormat(50, 6, tr(period), "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", rec.Summary.TotalIncome), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", rec.Summary.TotalExpenses), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", rec.Summary.LargestTransaction), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, string(statusOf(rec)), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	if totals.Transactions > 0 {
		pdf.AddPage()
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(30, 6, "Date", "1", 0, "C", false, 0, "")
		pdf.CellFormat(110, 6, "Description", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "Amount", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
		for _, period := range res.Transactions.Periods() {
			rec, _ := res.Transactions.Get(period)
			for _, tx := range rec.Transactions {
				pdf.CellFormat(30, 6, tr(tx.Date), "1", 0, "L", false, 0, "")
				pdf.CellFormat(110, 6, tr(clip(tx.Description, 60)), "1", 0, "L", false, 0, "")
				pdf.CellFormat(40, 6, fmt.Sprintf("%.2f", tx.Amount), "1", 0, "R", false, 0, "")
				pdf.Ln(-1)
			}
		}
	}

	if strings.TrimSpace(res.Analysis) != "" {
		pdf.AddPage()
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(0, 8, "Report")
		pdf.Ln(10)
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 5, tr(res.Analysis), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("BuildAnalysisPDF: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildAnalysisXLSX renders a workbook with summary, periods, transactions
// and report sheets.
func BuildAnalysisXLSX(saved *store.Saved) ([]byte, error) {
	res, err := saved.Result()
	if err != nil {
		return nil, fmt.Errorf("BuildAnalysisXLSX: %w", err)
	}
	totals := pipeline.ComputeTotals(res.Transactions)

	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	periodsSheet := "periods"
	txSheet := "transactions"
	reportSheet := "report"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(periodsSheet)
	f.NewSheet(txSheet)
	f.NewSheet(reportSheet)

	income, _ := totals.Income.Round(2).Float64()
	expenses, _ := totals.Expenses.Round(2).Float64()
	net, _ := totals.Net.Round(2).Float64()

	_ = f.SetCellValue(summarySheet, "A1", "Statement Analysis")
	_ = f.SetCellValue(summarySheet, "A3", "Bank")
	_ = f.SetCellValue(summarySheet, "B3", saved.BankName)
	_ = f.SetCellValue(summarySheet, "A4", "Statement date")
	_ = f.SetCellValue(summarySheet, "B4", saved.StatementDate)
	_ = f.SetCellValue(summarySheet, "A5", "Total income")
	_ = f.SetCellValue(summarySheet, "B5", income)
	_ = f.SetCellValue(summarySheet, "A6", "Total expenses")
	_ = f.SetCellValue(summarySheet, "B6", expenses)
	_ = f.SetCellValue(summarySheet, "A7", "Net")
	_ = f.SetCellValue(summarySheet, "B7", net)
	_ = f.SetCellValue(summarySheet, "A8", "Periods")
	_ = f.SetCellValue(summarySheet, "B8", totals.Periods)
	_ = f.SetCellValue(summarySheet, "A9", "Transactions")
	_ = f.SetCellValue(summarySheet, "B9", totals.Transactions)

	_ = f.SetCellValue(periodsSheet, "A1", "Period")
	_ = f.SetCellValue(periodsSheet, "B1", "Income")
	_ = f.SetCellValue(periodsSheet, "C1", "Expenses")
	_ = f.SetCellValue(periodsSheet, "D1", "Largest transaction")
	_ = f.SetCellValue(periodsSheet, "E1", "Average transaction")
	_ = f.SetCellValue(periodsSheet, "F1", "Status")

	_ = f.SetCellValue(txSheet, "A1", "Period")
	_ = f.SetCellValue(txSheet, "B1", "Date")
	_ = f.SetCellValue(txSheet, "C1", "Description")
	_ = f.SetCellValue(txSheet, "D1", "Amount")

	txRow := 2
	for i, period := range res.Transactions.Periods() {
		rec, _ := res.Transactions.Get(period)
		row := i + 2
		_ = f.SetCellValue(periodsSheet, fmt.Sprintf("A%d", row), period)
		_ = f.SetCellValue(periodsSheet, fmt.Sprintf("B%d", row), rec.Summary.TotalIncome)
		_ = f.SetCellValue(periodsSheet, fmt.Sprintf("C%d", row), rec.Summary.TotalExpenses)
		_ = f.SetCellValue(periodsSheet, fmt.Sprintf("D%d", row), rec.Summary.LargestTransaction)
		_ = f.SetCellValue(periodsSheet, fmt.Sprintf("E%d", row), rec.Summary.AverageTransactionSize)
		_ = f.SetCellValue(periodsSheet, fmt.Sprintf("F%d", row), string(statusOf(rec)))

		for _, tx := range rec.Transactions {
			_ = f.SetCellValue(txSheet, fmt.Sprintf("A%d", txRow), period)
			_ = f.SetCellValue(txSheet, fmt.Sprintf("B%d", txRow), tx.Date)
			_ = f.SetCellValue(txSheet, fmt.Sprintf("C%d", txRow), tx.Description)
			_ = f.SetCellValue(txSheet, fmt.Sprintf("D%d", txRow), tx.Amount)
			txRow++
		}
	}

	_ = f.SetCellValue(reportSheet, "A1", res.Analysis)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("BuildAnalysisXLSX: %w", err)
	}
	return buf.Bytes(), nil
}

// statusOf reads records saved before statuses existed as ok.
func statusOf(rec pipeline.PeriodRecord) pipeline.PeriodStatus {
	if rec.Status == "" {
		return pipeline.PeriodStatusOK
	}
	return rec.Status
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
