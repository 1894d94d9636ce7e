package model

import "time"

// ActivityType classifies a timeline entry.
type ActivityType string

const (
	ActivityCall        ActivityType = "call"
	ActivityEmail       ActivityType = "email"
	ActivityMeeting     ActivityType = "meeting"
	ActivityNote        ActivityType = "note"
	ActivityStageChange ActivityType = "stage_change"
	ActivityDealCreated ActivityType = "deal_created"
)

// NoSubject is the title used for synced mail without a Subject.
const NoSubject = "(no subject)"

// Activity is one entry in a deal's timeline.
//
// ExternalID is set only for synced mail and holds the provider's message
// id. (DealID, ExternalID) is unique among rows where ExternalID is set.
// Synced rows never carry a Body.
type Activity struct {
	ID         string       `json:"id"`
	UserID     string       `json:"userId"`
	DealID     string       `json:"dealId"`
	Type       ActivityType `json:"type"`
	Title      string       `json:"title"`
	Body       *string      `json:"body"`
	ExternalID *string      `json:"externalId"`
	OccurredAt time.Time    `json:"occurredAt"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Manual reports whether users may log this type by hand.
func (t ActivityType) Manual() bool {
	switch t {
	case ActivityCall, ActivityEmail, ActivityMeeting, ActivityNote:
		return true
	}
	return false
}
