package search

import "context"

// Result is a single departure sheet hit returned to the caller.
type Result struct {
	SheetID   int64  `json:"sheetId"`
	Plate     string `json:"plate"`
	PilotName string `json:"pilotName"`
	Platform  string `json:"platform"`
	Snippet   string `json:"snippet"`
	CreatedAt int64  `json:"createdAt"`
}

// Query describes a search request. Results are always limited to one company.
type Query struct {
	CompanyID int64
	Text      string
	Platform  string
	VehicleID int64
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

const (
	SourceMeili    = "meilisearch"
	SourcePostgres = "postgres"
)

// Searcher can execute a search over submitted sheets.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push sheets into a search index.
type Indexer interface {
	IndexSheets(records []SheetRecord) error
}

// SheetRecord is the data we index for a submitted sheet.
type SheetRecord struct {
	ID              string `json:"id"`
	SheetID         int64  `json:"sheetId"`
	CompanyID       int64  `json:"companyId"`
	Platform        string `json:"platform"`
	VehicleID       int64  `json:"vehicleId"`
	Plate           string `json:"plate"`
	PilotName       string `json:"pilotName"`
	Notes           string `json:"notes"`
	OdometerReading int64  `json:"odometerReading"`
	FuelPercentage  int    `json:"fuelPercentage"`
	CreatedBy       string `json:"createdBy"`
	CreatedAt       int64  `json:"createdAt"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
