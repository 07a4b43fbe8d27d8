package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Attachment roles accepted by the ingestion endpoint
const (
	RoleDatasheet    = "datasheet"
	RoleConfirmation = "dav"
)

// Attachment is a named binary file carried with a task.
// Data is encoded as base64 on the wire.
type Attachment struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Task represents one unit of work forwarded to the worker
type Task struct {
	ID          string                  `json:"id"`
	Event       string                  `json:"event"`
	Prices      []json.RawMessage       `json:"prices"`
	Deadlines   []json.RawMessage       `json:"deadlines"`
	Attachments map[string][]Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

// NewID returns a unique, timestamp-ordered task identifier
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Clone returns a copy of the task that shares no slices or maps with t.
// Attachment bytes are shared since tasks are never mutated after creation.
func (t Task) Clone() Task {
	out := t
	out.Prices = append([]json.RawMessage(nil), t.Prices...)
	out.Deadlines = append([]json.RawMessage(nil), t.Deadlines...)
	if t.Attachments != nil {
		out.Attachments = make(map[string][]Attachment, len(t.Attachments))
		for role, files := range t.Attachments {
			out.Attachments[role] = append([]Attachment(nil), files...)
		}
	}
	return out
}

// AttachmentNames lists attachment file names for a role
func (t Task) AttachmentNames(role string) []string {
	names := make([]string, 0, len(t.Attachments[role]))
	for _, a := range t.Attachments[role] {
		names = append(names, a.Name)
	}
	return names
}

// Coordinator status constants
const (
	StatusOffline = "offline"
	StatusIdle    = "idle"
	StatusBusy    = "busy"
)

// Outcome records how the worker finished a task
type Outcome struct {
	Event       string    `json:"event"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

func (o Outcome) String() string {
	if o.Success {
		return o.Event
	}
	if o.Error == "" {
		return fmt.Sprintf("%s (failed)", o.Event)
	}
	return fmt.Sprintf("%s (failed: %s)", o.Event, o.Error)
}

// SystemState is the snapshot advertised to observers
type SystemState struct {
	Status       string    `json:"status"`
	PendingCount int       `json:"pending_count"`
	Pending      []string  `json:"pending"`
	History      []Outcome `json:"history"`
}
