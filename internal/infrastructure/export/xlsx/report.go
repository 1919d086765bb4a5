package xlsx

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

// ContentType is the MIME type of the generated workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const priceFormat = "#,##0.00"

// WriteReport renders one report as a single-sheet workbook. Rows are sorted
// by group, description and point of sale so exports diff cleanly.
func WriteReport(w io.Writer, sheet, groupHeader string, report domain.Report) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheet = "report"
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	headers := []any{groupHeader, "description", "point_of_sale", "price", "brand"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}
	price, err := f.NewStyle(&excelize.Style{CustomNumFmt: ptr(priceFormat)})
	if err != nil {
		return fmt.Errorf("price style: %w", err)
	}

	row := 2
	for _, group := range sortedKeys(report) {
		descriptions := report[group]
		for _, description := range sortedKeys(descriptions) {
			points := append([]domain.PricePoint(nil), descriptions[description]...)
			sort.Slice(points, func(i, j int) bool { return points[i].PointOfSale < points[j].PointOfSale })
			for _, p := range points {
				cell, err := excelize.CoordinatesToCellName(1, row)
				if err != nil {
					return err
				}
				values := []any{group, description, p.PointOfSale, float64(p.Price) / 100, p.Brand}
				if err := f.SetSheetRow(sheet, cell, &values); err != nil {
					return fmt.Errorf("write row %d: %w", row, err)
				}
				row++
			}
		}
	}
	if row > 2 {
		if err := f.SetCellStyle(sheet, "D2", fmt.Sprintf("D%d", row-1), price); err != nil {
			return fmt.Errorf("apply price style: %w", err)
		}
	}
	if err := f.SetColWidth(sheet, "A", "C", 28); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.AutoFilter(sheet, fmt.Sprintf("A1:E%d", max(row-1, 1)), nil); err != nil {
		return fmt.Errorf("auto filter: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func ptr[T any](v T) *T { return &v }

// Exporter adapts WriteReport to ports.ReportExporter.
type Exporter struct{}

func (Exporter) ContentType() string { return ContentType }

func (Exporter) Extension() string { return ".xlsx" }

func (Exporter) WriteReport(w io.Writer, sheet, groupHeader string, report domain.Report) error {
	return WriteReport(w, sheet, groupHeader, report)
}
