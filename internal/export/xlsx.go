package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"fleetdesk/api/internal/sheet"
)

const registerSheet = "Hojas de salida"

const registerHeaderRow = 4

var registerColumns = []struct {
	label string
	width float64
}{
	{"N°", 10},
	{"Fecha", 18},
	{"Plataforma", 12},
	{"Placa", 12},
	{"Piloto", 28},
	{"Kilometraje", 14},
	{"Combustible %", 14},
	{"Ítems revisados", 16},
	{"Operador", 20},
	{"Observaciones", 40},
}

func buildRegister(title string, generated time.Time, rows []RegisterRow) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	index, err := f.NewSheet(registerSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)

	titleStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 16},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	if err != nil {
		return nil, err
	}
	if err := f.SetCellValue(registerSheet, "A1", title); err != nil {
		return nil, err
	}
	_ = f.SetCellStyle(registerSheet, "A1", "A1", titleStyle)
	_ = f.SetRowHeight(registerSheet, 1, 30)
	_ = f.SetCellValue(registerSheet, "A2", fmt.Sprintf("Generado: %s", generated.Format("2006-01-02 15:04:05")))

	border := func(color string) []excelize.Border {
		return []excelize.Border{
			{Type: "left", Color: color, Style: 1},
			{Type: "right", Color: color, Style: 1},
			{Type: "top", Color: color, Style: 1},
			{Type: "bottom", Color: color, Style: 1},
		}
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border("000000"),
	})
	if err != nil {
		return nil, err
	}
	dataStyle, err := f.NewStyle(&excelize.Style{Border: border("CCCCCC")})
	if err != nil {
		return nil, err
	}

	// fuel cells take the color of their bucket
	fuelStyles := map[string]int{}
	fuelStyle := func(percent int) (int, error) {
		color := sheet.FuelLevel(percent).Color()
		if id, ok := fuelStyles[color]; ok {
			return id, nil
		}
		id, err := f.NewStyle(&excelize.Style{
			Border: border("CCCCCC"),
			Font:   &excelize.Font{Bold: true, Color: color},
		})
		if err != nil {
			return 0, err
		}
		fuelStyles[color] = id
		return id, nil
	}

	for colIdx, col := range registerColumns {
		cell, _ := excelize.CoordinatesToCellName(colIdx+1, registerHeaderRow)
		_ = f.SetCellValue(registerSheet, cell, col.label)
		_ = f.SetCellStyle(registerSheet, cell, cell, headerStyle)
		colName, _ := excelize.ColumnNumberToName(colIdx + 1)
		_ = f.SetColWidth(registerSheet, colName, colName, col.width)
	}

	for rowIdx, row := range rows {
		values := []any{
			row.Number,
			row.CreatedAt.Format("2006-01-02 15:04"),
			row.Platform,
			row.Plate,
			row.PilotName,
			row.OdometerReading,
			row.FuelPercentage,
			row.ReviewedItems,
			row.CreatedBy,
			row.Notes,
		}
		excelRow := registerHeaderRow + 1 + rowIdx
		for colIdx, value := range values {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, excelRow)
			if err := f.SetCellValue(registerSheet, cell, value); err != nil {
				return nil, err
			}
			style := dataStyle
			if colIdx == 6 {
				if style, err = fuelStyle(row.FuelPercentage); err != nil {
					return nil, err
				}
			}
			_ = f.SetCellStyle(registerSheet, cell, cell, style)
		}
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
