package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when inserting a record whose key is taken.
	ErrDuplicate = errors.New("already exists")
)

// Speaker values for Turn.Speaker.
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
	SpeakerTool      = "tool"
)

// Turn is one stored message of a conversation. IDs are snowflakes, so they
// sort in creation order.
type Turn struct {
	ID           int64
	Conversation string
	Speaker      string
	Text         string
	ToolName     string // set on tool turns and on assistant turns that requested a tool
	ToolArgs     string // JSON object
	CreatedAt    time.Time
}

// Feed is the persisted watch state of one feed URL within a watch scope.
type Feed struct {
	Scope      string
	URL        string
	Category   string
	Title      string
	Sinks      []string // sink names; empty means every sink serving Scope
	LastPoll   time.Time
	NextPoll   time.Time
	Failures   int
	LastError  string
	Generation int64
	CreatedAt  time.Time
}

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
