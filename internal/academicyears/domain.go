package academicyears

import (
	"encoding/json"
	"time"

	"github.com/openkz/admin-api/internal/shared"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date serialised as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to its UTC calendar day.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(DateLayout))
}

// Period filters.
const (
	PeriodUpcoming = "upcoming"
	PeriodCurrent  = "current"
	PeriodPast     = "past"
)

// AcademicYear is a named school year; at most one is active.
type AcademicYear struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	StartDate    Date      `json:"start_date"`
	EndDate      Date      `json:"end_date"`
	IsActive     bool      `json:"is_active"`
	Description  *string   `json:"description"`
	DurationDays int       `json:"duration_days"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ListFilters narrows academic year listings.
type ListFilters struct {
	Search  string
	Active  *bool
	Period  string
	On      Date
	Page    int
	PerPage int
}

// Page is one page of academic years.
type Page struct {
	Data       []AcademicYear    `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

// CreateInput describes a new academic year.
type CreateInput struct {
	Name        string  `json:"name" validate:"required,max=255"`
	StartDate   string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate     string  `json:"end_date" validate:"required,datetime=2006-01-02"`
	IsActive    *bool   `json:"is_active"`
	Description *string `json:"description"`
}

// UpdateInput describes a partial update. Nil fields are untouched.
type UpdateInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	StartDate   *string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate     *string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Description *string `json:"description"`
}

// Record is the persisted column set of an academic year.
type Record struct {
	Name        string
	StartDate   Date
	EndDate     Date
	IsActive    bool
	Description *string
}

func durationDays(start, end Date) int {
	return int(end.Sub(start.Time).Hours() / 24)
}
