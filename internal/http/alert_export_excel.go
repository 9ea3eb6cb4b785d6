package httpapi

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"sitter-safety/internal/models"
)

const alertSheetName = "Emergency Alerts"

// AlertExportHeader 导出表头
var AlertExportHeader = []string{
	"Alert ID",
	"Session ID",
	"Triggered By",
	"Role",
	"Reason",
	"Status",
	"Created At",
	"Latitude",
	"Longitude",
	"Escalated",
	"Resolved By",
	"Resolved At",
	"Response Time (s)",
	"Contacts Notified",
	"Delivery Failures",
	"Notes",
}

// GenerateAlertExport 生成报警审计 Excel 文件
// alerts 为空时只生成表头
func GenerateAlertExport(alerts []*models.EmergencyAlert) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(alertSheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#FDE2E2"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range AlertExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(alertSheetName, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(alertSheetName, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}
	if err := f.SetColWidth(alertSheetName, "A", "B", 38); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(alertSheetName, "C", "P", 18); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	for i, a := range alerts {
		row := alertRow(a)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(alertSheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func alertRow(a *models.EmergencyAlert) []any {
	var (
		resolvedBy, resolvedAt, notes string
		responseSeconds              any = ""
	)
	if a.ResolvedBy != nil {
		resolvedBy = *a.ResolvedBy
	}
	if a.ResolvedAt != nil {
		resolvedAt = a.ResolvedAt.Format(time.RFC3339)
	}
	if a.Notes != nil {
		notes = *a.Notes
	}
	if a.ResponseTime != nil {
		responseSeconds = float64(*a.ResponseTime) / 1000
	}
	escalated := "No"
	if a.Escalated {
		escalated = "Yes"
	}
	return []any{
		a.ID,
		a.SessionID,
		a.TriggeredBy,
		a.TriggeredByRole,
		a.Reason,
		string(a.Status),
		a.CreatedAt.Format(time.RFC3339),
		a.Location.Latitude,
		a.Location.Longitude,
		escalated,
		resolvedBy,
		resolvedAt,
		responseSeconds,
		a.Delivery.Delivered,
		a.Delivery.Failed,
		notes,
	}
}
