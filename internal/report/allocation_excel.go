package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/DEVa-26/Disaster/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	AllocationsSheet = "Allocations"
	InventorySheet   = "Inventory"
)

// AllocationExportHeader 流水导出表头
var AllocationExportHeader = []string{
	"Incident ID",
	"Kind",
	"Disaster Type",
	"Severity",
	"Region",
	"Requested",
	"Granted",
	"Status",
	"Confidence",
	"Timestamp",
}

// InventoryExportHeader 库存导出表头
var InventoryExportHeader = []string{
	"Region",
	"Resource Type",
	"Available",
	"Reserved",
	"Total",
}

// GenerateAllocationExport 生成流水 + 库存的 Excel 文件
func GenerateAllocationExport(records []*models.AllocationRecord, inventory []models.InventoryEntry) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 之前文件必须保持打开

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#FDE9D9"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	allocRows := make([][]interface{}, 0, len(records))
	for _, r := range records {
		allocRows = append(allocRows, []interface{}{
			r.IncidentID,
			string(r.Kind),
			string(r.DisasterType),
			r.Severity.String(),
			r.Region,
			formatQuantities(r.Requested),
			formatQuantities(r.Granted),
			string(r.Status),
			r.SourceConfidence,
			r.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	index, err := writeSheet(f, AllocationsSheet, AllocationExportHeader,
		[]float64{38, 12, 14, 12, 12, 40, 40, 12, 12, 20}, allocRows, headerStyle)
	if err != nil {
		f.Close()
		return nil, err
	}

	invRows := make([][]interface{}, 0, len(inventory))
	for _, e := range inventory {
		invRows = append(invRows, []interface{}{e.Region, string(e.ResourceType), e.Available, e.Reserved, e.Total})
	}
	if _, err := writeSheet(f, InventorySheet, InventoryExportHeader,
		[]float64{15, 18, 12, 12, 12}, invRows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// writeSheet 创建工作表，写入表头、列宽、数据并冻结表头
func writeSheet(f *excelize.File, sheet string, headers []string, widths []float64, rows [][]interface{}, headerStyle int) (int, error) {
	index, err := f.NewSheet(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}

	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return 0, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return 0, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return 0, fmt.Errorf("failed to set header style: %w", err)
		}
		if col < len(widths) {
			name, err := excelize.ColumnNumberToName(col + 1)
			if err != nil {
				return 0, fmt.Errorf("failed to convert column number: %w", err)
			}
			if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
				return 0, fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2) // 第1行是表头
		if err != nil {
			return 0, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return 0, fmt.Errorf("failed to write row %d of %s: %w", i+2, sheet, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return 0, fmt.Errorf("failed to freeze panes: %w", err)
	}
	return index, nil
}

// formatQuantities "rescue_team=2, shelter_bed=4"（按资源类型排序）
func formatQuantities(q models.Quantities) string {
	parts := make([]string, 0, len(q))
	for _, rt := range q.Types() {
		parts = append(parts, fmt.Sprintf("%s=%d", rt, q[rt]))
	}
	return strings.Join(parts, ", ")
}
