package rigcam

import "time"

// StartRecordingRequest is the typed request payload for starting a session
type StartRecordingRequest struct {
	SessionID       string   `json:"session_id,omitempty"` // generated when empty
	CameraID        string   `json:"camera_id"`
	AudioEnabled    *bool    `json:"audio_enabled,omitempty"`
	BitrateMbps     *float64 `json:"bitrate_mbps,omitempty"`
	Codec           string   `json:"codec,omitempty"`
	DurationMinutes *int     `json:"duration_minutes,omitempty"` // overrides the configured target
}

// SessionInfo describes an in-flight or just-started recording session
type SessionInfo struct {
	SessionID       string    `json:"session_id"`
	CameraID        string    `json:"camera_id"`
	FileName        string    `json:"file_name"`
	StartTimeLocal  time.Time `json:"start_time_local"`
	StartTimeMaster time.Time `json:"start_time_master"`
	OffsetMS        float64   `json:"offset_ms"`
	TargetSeconds   int       `json:"target_seconds,omitempty"`
	ElapsedSeconds  int       `json:"elapsed_seconds"`
	AudioEnabled    bool      `json:"audio_enabled"`
	BitrateMbps     float64   `json:"bitrate_mbps"`
	Codec           string    `json:"codec"`
	Resolution      string    `json:"resolution"`
	FPS             int       `json:"fps"`
}

// StopRecordingResponse reports the finalized session
type StopRecordingResponse struct {
	SessionID       string `json:"session_id"`
	CameraID        string `json:"camera_id"`
	DurationSeconds int    `json:"duration_seconds"`
	ManifestPath    string `json:"manifest_path"`
}

// ConfirmOffloadRequest confirms an external transfer of a recording
type ConfirmOffloadRequest struct {
	SessionID string        `json:"session_id"`
	CameraID  string        `json:"camera_id"`
	File      string        `json:"file"`
	Checksum  ChecksumValue `json:"checksum"`
}

// ChecksumValue carries a checksum algorithm and hex digest
type ChecksumValue struct {
	Algo  string `json:"algo"`
	Value string `json:"value"`
}

// SelfTestResponse reports per-gate readiness results
type SelfTestResponse struct {
	Passed  bool     `json:"passed"`
	Details []string `json:"details"`
}

// TestRecordingResponse reports the outcome of a bounded test clip
type TestRecordingResponse struct {
	Passed          bool   `json:"passed"`
	DurationSeconds int    `json:"duration_seconds"`
	Detail          string `json:"detail"`
}

// UpdateCheckResponse reports version comparison against the release feed
type UpdateCheckResponse struct {
	CurrentVersion   string `json:"current_version"`
	AvailableVersion string `json:"available_version,omitempty"`
	CanUpdate        bool   `json:"can_update"`
	Message          string `json:"message,omitempty"`
}

// UpdateApplyResponse reports whether an update was staged
type UpdateApplyResponse struct {
	Started        bool   `json:"started"`
	Message        string `json:"message"`
	AppliedVersion string `json:"applied_version,omitempty"`
}
