package common

// ErrorResponse represents a standard error response used across all endpoints
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`    // stable machine-readable category
	Service string                 `json:"service,omitempty"` // which service generated the error
	Details map[string]interface{} `json:"details,omitempty"` // additional error context
}

// SuccessResponse represents a standard success response used across all endpoints
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Stable error categories surfaced by the recording control API.
const (
	CodeConflict           = "conflict"
	CodeBadRequest         = "bad_request"
	CodePreconditionFailed = "precondition_failed"
	CodeNotFound           = "not_found"
	CodeIntegrityConflict  = "integrity_conflict"
	CodeNoActiveSession    = "no_active_session"
	CodeInternal           = "internal"
)
