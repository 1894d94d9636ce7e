package model

import "time"

// Stage is a pipeline column.
type Stage string

const (
	StageProspecting   Stage = "prospecting"
	StageQualification Stage = "qualification"
	StageProposal      Stage = "proposal"
	StageNegotiation   Stage = "negotiation"
	StageClosedWon     Stage = "closed_won"
	StageClosedLost    Stage = "closed_lost"
)

// Stages lists the pipeline columns in board order.
var Stages = []Stage{
	StageProspecting,
	StageQualification,
	StageProposal,
	StageNegotiation,
	StageClosedWon,
	StageClosedLost,
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// Deal is one opportunity in a user's pipeline.
//
// ContactEmail is nullable: only deals that carry one take part in mail sync.
// ExpectedCloseDate is a calendar date (YYYY-MM-DD) kept as text.
type Deal struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Title             string    `json:"title"`
	Company           string    `json:"company"`
	ContactName       string    `json:"contactName"`
	ContactEmail      *string   `json:"contactEmail"`
	Value             float64   `json:"value"`
	Stage             Stage     `json:"stage"`
	Probability       int       `json:"probability"`
	ExpectedCloseDate *string   `json:"expectedCloseDate"`
	Notes             *string   `json:"notes"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
