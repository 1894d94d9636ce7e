package model

import "time"

// PeriodType describes the span a revenue goal covers.
type PeriodType string

const (
	PeriodMonthly   PeriodType = "monthly"
	PeriodQuarterly PeriodType = "quarterly"
	PeriodAnnual    PeriodType = "annual"
	PeriodMultiYear PeriodType = "multi-year"
)

// Goal is a revenue target for one period. PeriodStart and PeriodEnd are
// calendar dates (YYYY-MM-DD) computed by the client.
type Goal struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Year          int        `json:"year"`
	TargetRevenue float64    `json:"targetRevenue"`
	PeriodType    PeriodType `json:"periodType"`
	PeriodStart   string     `json:"periodStart"`
	PeriodEnd     string     `json:"periodEnd"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
