package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"fleetdesk/api/internal/sheet"
)

//go:embed templates/*.html
var templateFS embed.FS

var sheetTemplate *template.Template

var funcMap = template.FuncMap{
	"fuelGauge": func(percent int) string { return sheet.FuelLevel(percent).Gauge() },
	"fuelColor": func(percent int) template.CSS { return template.CSS(sheet.FuelLevel(percent).Color()) },
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"deref": func(v *int64) int64 {
		if v == nil {
			return 0
		}
		return *v
	},
}

func init() {
	templateContent, err := templateFS.ReadFile("templates/departure_sheet.html")
	if err != nil {
		sheetTemplate = template.Must(template.New("sheet").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}
	sheetTemplate = template.Must(template.New("sheet").Funcs(funcMap).Parse(string(templateContent)))
}

// RenderSheetHTML renders the printable departure sheet.
func RenderSheetHTML(view SheetView) (string, error) {
	var buf bytes.Buffer
	if err := sheetTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Hoja de Salida {{.Number}}</title></head>
<body>
  <h1>Hoja de Salida {{.Number}}</h1>
  <p>{{.Platform}} | {{.PilotName}} | {{.Plate}} | {{.OdometerReading}} | {{fuelGauge .FuelPercentage}} {{.FuelPercentage}}%</p>
  <ul>{{range .Reviews}}<li>{{.Code}} {{.Description}} {{.Annotation}}</li>{{end}}</ul>
  {{if .Notes}}<p>{{.Notes}}</p>{{end}}
</body>
</html>`
