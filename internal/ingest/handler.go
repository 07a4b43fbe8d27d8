package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/yourusername/task-relay/internal/orchestrator"
	"github.com/yourusername/task-relay/pkg/tasks"
)

// ErrMalformedTaskPayload is returned when a submission cannot be parsed
var ErrMalformedTaskPayload = errors.New("malformed task payload")

// Queue is the coordinator surface used by the handler
type Queue interface {
	Enqueue(task tasks.Task)
	WorkerRegistered() bool
	WorkerEverRegistered() bool
}

// Config holds ingestion settings
type Config struct {
	MaxUploadBytes    int64 // Limit for a whole submission (default: 32 MiB)
	RequireLiveWorker bool  // Refuse work unless a worker is connected right now (default: false)
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxUploadBytes:    32 << 20,
		RequireLiveWorker: false,
	}
}

// Handler accepts task submissions over HTTP
type Handler struct {
	queue  Queue
	config *Config
}

// NewHandler creates a new ingestion handler
func NewHandler(queue Queue, config *Config) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Handler{queue: queue, config: config}
}

// RegisterRoutes registers ingestion routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/tasks", h.HandleSubmit)
}

type response struct {
	Status  string `json:"status"`
	TaskID  string `json:"task_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// submission is the JSON form of a task request
type submission struct {
	Event       string                        `json:"event"`
	Prices      []json.RawMessage             `json:"prices"`
	Deadlines   []json.RawMessage             `json:"deadlines"`
	Attachments map[string][]tasks.Attachment `json:"attachments"`
}

// HandleSubmit validates a submission and hands the task to the coordinator.
// It answers as soon as the task is queued.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.admit(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, response{Status: "error", Message: err.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	task, err := h.parse(r)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		slog.Warn("task submission rejected", "remote", r.RemoteAddr, "error", err)
		writeJSON(w, status, response{Status: "error", Message: err.Error()})
		return
	}

	h.queue.Enqueue(task)
	writeJSON(w, http.StatusAccepted, response{Status: "ok", TaskID: task.ID})
}

// admit applies the worker-availability gate
func (h *Handler) admit() error {
	if h.config.RequireLiveWorker {
		if !h.queue.WorkerRegistered() {
			return orchestrator.ErrNoWorkerRegistered
		}
		return nil
	}
	if !h.queue.WorkerEverRegistered() {
		return orchestrator.ErrNoWorkerRegistered
	}
	return nil
}

func (h *Handler) parse(r *http.Request) (tasks.Task, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var sub submission
	var err error
	switch mediaType {
	case "application/json":
		err = decodeJSON(r.Body, &sub)
	case "multipart/form-data":
		err = h.decodeMultipart(r, &sub)
	default:
		err = fmt.Errorf("%w: unsupported content type %q", ErrMalformedTaskPayload, mediaType)
	}
	if err != nil {
		return tasks.Task{}, err
	}

	sub.Event = strings.TrimSpace(sub.Event)
	if sub.Event == "" {
		return tasks.Task{}, fmt.Errorf("%w: event is required", ErrMalformedTaskPayload)
	}
	for role := range sub.Attachments {
		if !knownRole(role) {
			return tasks.Task{}, fmt.Errorf("%w: unknown attachment role %q", ErrMalformedTaskPayload, role)
		}
	}

	task := tasks.Task{
		ID:          tasks.NewID(),
		Event:       sub.Event,
		Prices:      sub.Prices,
		Deadlines:   sub.Deadlines,
		Attachments: sub.Attachments,
		CreatedAt:   time.Now(),
	}
	if task.Prices == nil {
		task.Prices = []json.RawMessage{}
	}
	if task.Deadlines == nil {
		task.Deadlines = []json.RawMessage{}
	}
	return task, nil
}

func decodeJSON(body io.Reader, sub *submission) error {
	if err := json.NewDecoder(body).Decode(sub); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMalformedTaskPayload, err)
	}
	return nil
}

func (h *Handler) decodeMultipart(r *http.Request, sub *submission) error {
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMalformedTaskPayload, err)
	}

	sub.Event = r.FormValue("event")

	var err error
	if sub.Prices, err = parseList(r.FormValue("prices"), "prices"); err != nil {
		return err
	}
	if sub.Deadlines, err = parseList(r.FormValue("deadlines"), "deadlines"); err != nil {
		return err
	}

	for role, headers := range r.MultipartForm.File {
		if !knownRole(role) {
			return fmt.Errorf("%w: unknown attachment role %q", ErrMalformedTaskPayload, role)
		}
		files, err := readFiles(headers)
		if err != nil {
			return fmt.Errorf("failed to read %s attachments: %w", role, err)
		}
		if len(files) > 0 {
			if sub.Attachments == nil {
				sub.Attachments = make(map[string][]tasks.Attachment)
			}
			sub.Attachments[role] = files
		}
	}
	return nil
}

func knownRole(role string) bool {
	return role == tasks.RoleDatasheet || role == tasks.RoleConfirmation
}

// parseList decodes a JSON array form field; an empty field is an empty list
func parseList(value, field string) ([]json.RawMessage, error) {
	if strings.TrimSpace(value) == "" {
		return []json.RawMessage{}, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal([]byte(value), &list); err != nil {
		return nil, fmt.Errorf("%w: %s must be a JSON array: %v", ErrMalformedTaskPayload, field, err)
	}
	return list, nil
}

func readFiles(headers []*multipart.FileHeader) ([]tasks.Attachment, error) {
	files := make([]tasks.Attachment, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, tasks.Attachment{Name: fh.Filename, Data: data})
	}
	return files, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
