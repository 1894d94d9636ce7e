// Package events announces synced mail activities on NATS JetStream so other
// services (notifications, analytics) can react without polling the
// database.
//
// Every event is published to
//
//	revtrack.user.<userID>.activity.synced
//
// with a JetStream message id derived from (deal, provider message id), so a
// message re-announced within the stream's duplicate window is dropped by
// the server.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/revtrack/internal/mail"
	"github.com/sakif/revtrack/internal/model"
)

const (
	// StreamName is the JetStream stream holding activity events.
	StreamName = "REVTRACK_ACTIVITY"
	// StreamSubjects is the subject filter of StreamName.
	StreamSubjects = "revtrack.user.*.activity.>"

	typeActivitySynced = "activity.synced"
)

// ActivitySynced is the payload of one synced-activity event.
type ActivitySynced struct {
	EventID    string            `json:"event_id"`
	Type       string            `json:"type"`
	Timestamp  int64             `json:"ts"`
	UserID     string            `json:"user_id"`
	DealID     string            `json:"deal_id"`
	ActivityID string            `json:"activity_id"`
	Provider   mail.ProviderName `json:"provider"`
	ExternalID string            `json:"provider_message_id"`
	Title      string            `json:"title"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Envelope is a ready-to-publish event.
type Envelope struct {
	Subject string
	MsgID   string
	Payload []byte
}

// NewActivitySynced builds the envelope for an activity the sync inserted.
func NewActivitySynced(provider mail.ProviderName, a *model.Activity, now time.Time) (*Envelope, error) {
	if a.ExternalID == nil {
		return nil, fmt.Errorf("events: activity %s has no external id", a.ID)
	}
	event := ActivitySynced{
		EventID:    uuid.NewString(),
		Type:       typeActivitySynced,
		Timestamp:  now.Unix(),
		UserID:     a.UserID,
		DealID:     a.DealID,
		ActivityID: a.ID,
		Provider:   provider,
		ExternalID: *a.ExternalID,
		Title:      a.Title,
		OccurredAt: a.OccurredAt.UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("events: encoding %s: %w", typeActivitySynced, err)
	}
	return &Envelope{
		Subject: fmt.Sprintf("revtrack.user.%s.%s", subjectToken(a.UserID), typeActivitySynced),
		MsgID:   fmt.Sprintf("%s|%s|%s", typeActivitySynced, a.DealID, *a.ExternalID),
		Payload: payload,
	}, nil
}

// subjectToken makes s safe as a single NATS subject token. Dots would split
// it and wildcards would turn it into a pattern.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
