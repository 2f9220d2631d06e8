package client

import "time"

// Status mirrors the supervisor snapshot served at {base}/status.
type Status struct {
	State         string    `json:"state"`
	PID           int       `json:"pid,omitempty"`
	RunID         string    `json:"run_id,omitempty"`
	DependentPath string    `json:"dependent_path,omitempty"`
	Port          int       `json:"port"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	ReadyAt       time.Time `json:"ready_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
}

// Ready reports whether the backend passed its health check.
func (s Status) Ready() bool { return s.State == "ready" }

// ErrorResponse is the body of a non-200 reply.
type ErrorResponse struct {
	Error  string  `json:"error"`
	Status *Status `json:"status,omitempty"`
}
