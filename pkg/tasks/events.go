package tasks

import "encoding/json"

// Events sent by the worker and observers
const (
	EventRegisterWorker    = "register_worker"
	EventRegisterObserver  = "register_observer"
	EventTaskCompleted     = "task_completed"
	EventChallengeImage    = "challenge_image"
	EventChallengeResponse = "challenge_response"
	EventDirectCommand     = "direct_command"
)

// Events sent by the coordinator
const (
	EventStateSync                  = "state_sync"
	EventTaskAssignment             = "task_assignment"
	EventCommand                    = "command"
	EventForwardedChallengeImage    = "forwarded_challenge_image"
	EventForwardedChallengeResponse = "forwarded_challenge_response"
)

// Envelope is the frame exchanged over a connection
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Completion is the payload of a task_completed event
type Completion struct {
	Event   string `json:"event"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StateSync is the payload of a state_sync event
type StateSync struct {
	State   SystemState `json:"state"`
	Message string      `json:"message,omitempty"`
}
