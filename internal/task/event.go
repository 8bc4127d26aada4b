package task

import "time"

type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
)

// Event is published by the dispatcher on every state change and on fetch progress.
type Event struct {
	Type        EventType `json:"type"`
	RequestID   string    `json:"request_id"`
	RequesterID int64     `json:"requester_id"`
	RecipientID int64     `json:"recipient_id"`
	ReplyTo     int       `json:"reply_to,omitempty"`
	Status      Status    `json:"status"`
	Attempt     int       `json:"attempt"`
	Percent     float64   `json:"percent,omitempty"`
	Downloaded  int64     `json:"downloaded,omitempty"`
	Total       int64     `json:"total,omitempty"`
	Part        int       `json:"part,omitempty"`
	Parts       int       `json:"parts,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

func StatusEvent(r *Request) Event {
	return Event{
		Type:        EventStatus,
		RequestID:   r.ID,
		RequesterID: r.RequesterID,
		RecipientID: r.RecipientID,
		ReplyTo:     r.ReplyTo,
		Status:      r.Status,
		Attempt:     r.Attempt,
		Parts:       r.Parts,
		Reason:      r.Reason,
		At:          time.Now(),
	}
}
