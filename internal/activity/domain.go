package activity

import "time"

// Filters narrows the activity listing. Zero values are ignored.
type Filters struct {
	LogName     string
	Event       string
	Search      string
	SubjectType string
	SubjectID   int64
	CauserID    int64
	BatchUUID   string
	CreatedFrom time.Time
	CreatedTo   time.Time
	Page        int
	PageSize    int
}

// Entry is one stored activity record.
type Entry struct {
	ID          int64          `json:"id"`
	LogName     string         `json:"log_name"`
	Event       string         `json:"event"`
	Description string         `json:"description"`
	SubjectType string         `json:"subject_type,omitempty"`
	SubjectID   int64          `json:"subject_id,omitempty"`
	CauserID    int64          `json:"causer_id,omitempty"`
	CauserName  string         `json:"causer_name,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	BatchUUID   string         `json:"batch_uuid,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// PagingInfo describes a page without counting the full result.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a page of entries.
type Result struct {
	Data   []Entry    `json:"data"`
	Paging PagingInfo `json:"paging"`
}
