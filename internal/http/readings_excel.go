package httpapi

import (
	"bytes"
	"fmt"
	"time"

	"tamacloud/internal/domain"

	"github.com/xuri/excelize/v2"
)

// ReadingsExportHeader 读数导出表头
var ReadingsExportHeader = []string{
	"ID",
	"Timestamp",
	"Accel X",
	"Accel Y",
	"Accel Z",
	"Gyro X",
	"Gyro Y",
	"Gyro Z",
	"Mic Level",
	"Orientation",
	"Confidence",
	"Steps",
	"Has Image",
	"AI Caption",
}

// GenerateReadingsExport 生成读数导出 Excel 文件（不含图像二进制）
func GenerateReadingsExport(readings []*domain.Reading) ([]byte, error) {
	f := excelize.NewFile()

	sheetName := "Sensor Readings"
	index, err := f.NewSheet(sheetName)
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
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range ReadingsExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	// Timestamp 和 AI Caption 列加宽
	if err := f.SetColWidth(sheetName, "B", "B", 22); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(sheetName, "N", "N", 40); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	for rowIdx, rd := range readings {
		row := rowIdx + 2
		values := []any{
			rd.ID,
			rd.Timestamp.UTC().Format(time.RFC3339),
			rd.AccelX,
			rd.AccelY,
			rd.AccelZ,
			rd.GyroX,
			rd.GyroY,
			rd.GyroZ,
			rd.MicLevel,
			rd.Orientation,
			rd.OrientationConfidence,
			rd.StepCount,
			rd.HasImage(),
		}
		if rd.Caption != nil {
			values = append(values, *rd.Caption)
		} else {
			values = append(values, "")
		}

		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}
