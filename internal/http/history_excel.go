package httpapi

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"owl-vitals/internal/models"
)

// HistoryExportHeader export column order
var HistoryExportHeader = []string{
	"Timestamp",
	"Heart Rate (bpm)",
	"Systolic (mmHg)",
	"Diastolic (mmHg)",
	"Respiratory Rate (/min)",
	"SpO2 (%)",
	"Temperature (°F)",
	"Risk Score",
}

var historyColumnWidths = []float64{22, 18, 16, 16, 22, 12, 18, 12}

const historySheetName = "Vitals History"

// GenerateHistoryExport writes one row per history entry; scores holds one risk score per entry.
func GenerateHistoryExport(h *models.HistorySnapshot, scores []float64) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(historySheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range HistoryExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(historySheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(historySheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(historySheetName, name, name, historyColumnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i := 0; i < h.Len(); i++ {
		row := []any{
			h.Timestamps[i],
			h.HeartRate[i],
			h.Systolic[i],
			h.Diastolic[i],
			h.RespiratoryRate[i],
			h.OxygenSaturation[i],
			h.Temperature[i],
		}
		if i < len(scores) {
			row = append(row, scores[i])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(historySheetName, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel: %w", err)
	}
	return buf.Bytes(), nil
}
