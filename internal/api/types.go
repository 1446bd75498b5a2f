package api

import "time"

// Codes for errors raised by the HTTP layer itself. Pipeline errors carry
// the codes from pipeline.Classify.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeBusy         = "SERVER_BUSY"
	CodeBadRequest   = "BAD_REQUEST"
)

// LinkResponse is returned by POST /pdf/{operation} when delivery=link.
type LinkResponse struct {
	BatchID     string    `json:"batch_id"`
	DownloadURL string    `json:"download_url"`
	FileName    string    `json:"file_name"`
	Size        int64     `json:"size"`
	Digest      string    `json:"digest"`
	ExpiresAt   time.Time `json:"expires_at"`
	// Warnings is whatever the tool wrote to stderr on success.
	Warnings string `json:"warnings,omitempty"`
}

// PurgeResponse is returned by DELETE /logs.
type PurgeResponse struct {
	Deleted int64 `json:"deleted"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	BatchesInFlight int    `json:"batches_in_flight"`
	BatchCapacity   int    `json:"batch_capacity"`
	AuthEnabled     bool   `json:"auth_enabled"`
}
