package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-grid-bot/internal/orders"
)

// ExcelReporter writes the session's trade history to an Excel workbook,
// one sheet per symbol.
type ExcelReporter struct{}

// NewExcelReporter creates an Excel reporter
func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

// excelStyles holds the style IDs used across sheets
type excelStyles struct {
	header   int
	currency int
	quantity int
}

// WriteTradeHistory writes archived order records grouped by symbol
func (r *ExcelReporter) WriteTradeHistory(history map[string][]orders.Record, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	styles, err := r.createStyles(fx)
	if err != nil {
		return err
	}

	first := true
	for symbol, records := range history {
		if first {
			fx.SetSheetName(fx.GetSheetName(0), symbol)
			first = false
		} else {
			if _, err := fx.NewSheet(symbol); err != nil {
				return fmt.Errorf("failed to create sheet %s: %w", symbol, err)
			}
		}
		if err := r.writeSymbolSheet(fx, symbol, records, styles); err != nil {
			return err
		}
	}

	return fx.SaveAs(path)
}

func (r *ExcelReporter) createStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	styles.header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.currency, err = fx.NewStyle(&excelize.Style{
		NumFmt: 7, // Currency format with $ symbol
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.quantity, err = fx.NewStyle(&excelize.Style{
		NumFmt: 2, // Two decimal places
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	return styles, err
}

func (r *ExcelReporter) writeSymbolSheet(fx *excelize.File, sheet string, records []orders.Record, styles excelStyles) error {
	headers := []string{"Time", "Side", "State", "Requested Qty", "Filled Qty", "Fill Price", "Order ID", "Error"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.header)
	}

	for row, rec := range records {
		values := []interface{}{
			rec.UpdatedAt.Format(time.RFC3339),
			string(rec.Side),
			string(rec.State),
			rec.RequestedAmount,
			rec.FilledAmount,
			rec.FillPrice,
			rec.ID,
			rec.Error,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			fx.SetCellValue(sheet, cell, v)
		}

		qtyCell, _ := excelize.CoordinatesToCellName(4, row+2)
		filledCell, _ := excelize.CoordinatesToCellName(5, row+2)
		priceCell, _ := excelize.CoordinatesToCellName(6, row+2)
		fx.SetCellStyle(sheet, qtyCell, filledCell, styles.quantity)
		fx.SetCellStyle(sheet, priceCell, priceCell, styles.currency)
	}

	fx.SetColWidth(sheet, "A", "A", 22)
	fx.SetColWidth(sheet, "G", "G", 24)

	return nil
}
