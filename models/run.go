package models

// RunRequest is the payload for POST /api/v1/runs.
type RunRequest struct {
	// Targets is the ordered list of entities to scrape. Required; an empty
	// list completes at once with nothing scraped.
	Targets []EntityDescriptor `json:"targets" binding:"required,max=500,dive"`

	// FromDate and ToDate bound the query (YYYYMMDD). Default: 20210101 to today.
	FromDate string `json:"from_date,omitempty" binding:"omitempty,len=8,numeric"`
	ToDate   string `json:"to_date,omitempty" binding:"omitempty,len=8,numeric"`

	// Workers overrides the configured concurrency.
	Workers int `json:"workers,omitempty" binding:"omitempty,min=1,max=10"`

	// WebhookURL receives run.completed / run.stopped, signed with WebhookSecret.
	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`

	// MaxAgeMs reuses rows of identical targets scraped within this many
	// milliseconds. 0 always scrapes.
	MaxAgeMs int `json:"max_age_ms,omitempty" binding:"omitempty,min=0,max=3600000"`

	// NotifyEntities also sends entity.completed for each target.
	NotifyEntities bool `json:"notify_entities,omitempty"`
}

// RunResponse is the immediate response for POST /api/v1/runs.
type RunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
	RunStatusStopped   = "stopped"
)

// RunStatusResponse is the response for GET /api/v1/runs/:id.
type RunStatusResponse struct {
	ID        string       `json:"id"`
	Status    string       `json:"status"`
	Range     TimeRange    `json:"range"`
	Completed int          `json:"completed"`
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Records   int          `json:"records"`
	Logs      []string     `json:"logs"`
	Results   []TaskResult `json:"results"`
	Error     *ErrorDetail `json:"error,omitempty"`
	CreatedAt int64        `json:"created_at"`
	ElapsedMs int64        `json:"elapsed_ms"`
}

// RowsResponse is the response for GET /api/v1/runs/:id/rows.
type RowsResponse struct {
	ID     string      `json:"id"`
	Total  int         `json:"total"`
	Offset int         `json:"offset"`
	Rows   []RowRecord `json:"rows"`
}
