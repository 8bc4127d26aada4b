package task

import (
	"time"

	"github.com/google/uuid"
)

type Kind int

const (
	KindAuto Kind = iota
	KindVideo
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "auto"
	}
}

func ParseKind(s string) Kind {
	switch s {
	case "video":
		return KindVideo
	case "audio":
		return KindAudio
	default:
		return KindAuto
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityElevated
)

func (p Priority) String() string {
	if p == PriorityElevated {
		return "elevated"
	}
	return "normal"
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusSplitting  Status = "splitting"
	StatusDelivering Status = "delivering"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Request is a single fetch → (split) → deliver job.
type Request struct {
	ID          string    `json:"id"`
	RequesterID int64     `json:"requester_id"`
	RecipientID int64     `json:"recipient_id"`
	URL         string    `json:"url"`
	Kind        Kind      `json:"kind"`
	Priority    Priority  `json:"priority"`
	SubmittedAt time.Time `json:"submitted_at"`
	Attempt     int       `json:"attempt"`
	Status      Status    `json:"status"`

	// NotBefore holds a retried request back until its backoff elapses.
	NotBefore time.Time `json:"not_before,omitempty"`
	// ReplyTo is the chat message that triggered the request, zero for API intake.
	ReplyTo int `json:"reply_to,omitempty"`

	// Charged is set once the fetched size has been billed, so a retry after
	// a delivery failure does not bill it twice.
	Charged bool `json:"-"`

	Reason    string    `json:"reason,omitempty"`
	Bytes     int64     `json:"bytes"`
	Parts     int       `json:"parts"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewID() string {
	return uuid.NewString()
}

// Clone returns a copy safe to hand out of the owning goroutine.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
