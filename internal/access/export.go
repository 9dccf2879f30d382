package access

import (
	"fmt"
	"strings"

	"github.com/leveranciersportal/portalsync/internal/models"
	"github.com/xuri/excelize/v2"
)

var overviewHeader = []string{"Email", "Vendors", "Jobs"}

// ExportOverviewXLSX renders the supplier access overview as a spreadsheet.
func ExportOverviewXLSX(entries []models.SupplierAccessEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("access: export: header style: %w", err)
	}

	for col, title := range overviewHeader {
		cell, errCell := excelize.CoordinatesToCellName(col+1, 1)
		if errCell != nil {
			return nil, fmt.Errorf("access: export: %w", errCell)
		}
		if errSet := f.SetCellValue(sheet, cell, title); errSet != nil {
			return nil, fmt.Errorf("access: export: header %s: %w", cell, errSet)
		}
		if errStyle := f.SetCellStyle(sheet, cell, cell, headerStyle); errStyle != nil {
			return nil, fmt.Errorf("access: export: header style %s: %w", cell, errStyle)
		}
	}

	for i, entry := range entries {
		row := []any{entry.Email, strings.Join(entry.VendorNames, ", "), entry.JobCount}
		for col, value := range row {
			cell, errCell := excelize.CoordinatesToCellName(col+1, i+2)
			if errCell != nil {
				return nil, fmt.Errorf("access: export: %w", errCell)
			}
			if errSet := f.SetCellValue(sheet, cell, value); errSet != nil {
				return nil, fmt.Errorf("access: export: cell %s: %w", cell, errSet)
			}
		}
	}

	if errWidth := f.SetColWidth(sheet, "A", "B", 40); errWidth != nil {
		return nil, fmt.Errorf("access: export: column width: %w", errWidth)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("access: export: write: %w", err)
	}
	return buf.Bytes(), nil
}
