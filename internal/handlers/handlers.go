// Package handlers exposes the node's control surface over HTTP. Handlers
// stay thin: request decode, controller call, error category mapping.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/traloxolcus/soccer-rig/internal/config"
	"github.com/traloxolcus/soccer-rig/internal/controller"
	"github.com/traloxolcus/soccer-rig/internal/manifest"
	"github.com/traloxolcus/soccer-rig/internal/status"
	"github.com/traloxolcus/soccer-rig/internal/updater"
	"github.com/traloxolcus/soccer-rig/pkg/api/common"
	"github.com/traloxolcus/soccer-rig/pkg/api/rigcam"
	"github.com/traloxolcus/soccer-rig/pkg/logging"
)

const serviceName = "rigcam"

// Handlers binds the control routes to the node components.
type Handlers struct {
	cfg     *config.RigConfig
	ctrl    *controller.Controller
	status  *status.Aggregator
	updates *updater.Updater
	logger  logging.Logger
}

// New builds the handler set.
func New(
	cfg *config.RigConfig,
	ctrl *controller.Controller,
	agg *status.Aggregator,
	updates *updater.Updater,
	logger logging.Logger,
) *Handlers {
	return &Handlers{cfg: cfg, ctrl: ctrl, status: agg, updates: updates, logger: logger}
}

// RegisterRoutes mounts the control surface on the router.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/status", h.GetStatus)
	router.GET("/config", h.GetConfig)

	router.POST("/record/start", h.StartRecording)
	router.POST("/record/stop", h.StopRecording)
	router.POST("/record/test", h.TestRecording)

	router.GET("/recordings", h.ListRecordings)
	router.POST("/recordings/confirm", h.ConfirmOffload)

	router.POST("/selftest", h.SelfTest)

	router.GET("/update/check", h.CheckUpdate)
	router.POST("/update/apply", h.ApplyUpdate)
}

// GetStatus returns the aggregated node report.
func (h *Handlers) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Snapshot())
}

// GetConfig exposes the effective capture configuration.
func (h *Handlers) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"camera_id":                h.cfg.CameraID,
		"base_dir":                 h.cfg.BaseDir,
		"codec":                    h.cfg.Codec,
		"bitrate_mbps":             h.cfg.BitrateMbps,
		"resolution":               h.cfg.Resolution,
		"fps":                      h.cfg.FPS,
		"audio_enabled":            h.cfg.AudioEnabled,
		"duration_minutes_default": h.cfg.DurationMinutesDefault,
		"free_space_min_gb":        h.cfg.FreeSpaceMinGB,
		"delete_after_confirm":     h.cfg.DeleteAfterConfirm,
		"ntp_master_id":            h.cfg.NTPMasterID,
		"sync_role":                h.cfg.SyncRole(),
		"sync_offset_warn_ms":      h.cfg.SyncOffsetWarnMS,
		"simulate":                 h.cfg.Simulate,
	})
}

// StartRecording begins a session. The request body is optional; an empty
// body starts with the node defaults and a generated session ID.
func (h *Handlers) StartRecording(c *gin.Context) {
	var req rigcam.StartRecordingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, http.StatusBadRequest, common.CodeBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	info, err := h.ctrl.Start(req)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// StopRecording finalizes the active session.
func (h *Handlers) StopRecording(c *gin.Context) {
	resp, err := h.ctrl.Stop()
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListRecordings returns every stored manifest plus the active session,
// if one is in flight.
func (h *Handlers) ListRecordings(c *gin.Context) {
	list, err := h.ctrl.List()
	if err != nil {
		h.fail(c, http.StatusInternalServerError, common.CodeInternal, err.Error())
		return
	}
	resp := gin.H{"recordings": list.Recordings, "count": len(list.Recordings)}
	if list.Active != nil {
		resp["active"] = list.Active
	}
	c.JSON(http.StatusOK, resp)
}

// ConfirmOffload acknowledges an external copy of a recording.
func (h *Handlers) ConfirmOffload(c *gin.Context) {
	var req rigcam.ConfirmOffloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, common.CodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" || req.CameraID == "" {
		h.fail(c, http.StatusBadRequest, common.CodeBadRequest, "session_id and camera_id are required")
		return
	}

	rec, err := h.ctrl.ConfirmOffload(req)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// SelfTest runs the readiness gates without touching the pipeline.
func (h *Handlers) SelfTest(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.SelfTest())
}

// TestRecording captures and discards a short proof clip.
func (h *Handlers) TestRecording(c *gin.Context) {
	resp, err := h.ctrl.TestRecording()
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CheckUpdate consults the release feed.
func (h *Handlers) CheckUpdate(c *gin.Context) {
	c.JSON(http.StatusOK, h.updates.Check())
}

// ApplyUpdate stages an update when no recording is in flight.
func (h *Handlers) ApplyUpdate(c *gin.Context) {
	_, recording := h.ctrl.ActiveSession()
	resp := h.updates.Apply(recording)
	if !resp.Started && recording {
		c.JSON(http.StatusConflict, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// mapError translates controller and store errors into HTTP status plus a
// stable machine-readable category.
func (h *Handlers) mapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, controller.ErrSessionActive):
		h.fail(c, http.StatusConflict, common.CodeConflict, err.Error())
	case errors.Is(err, controller.ErrNoActiveSession):
		h.fail(c, http.StatusConflict, common.CodeNoActiveSession, err.Error())
	case errors.Is(err, controller.ErrCameraMismatch):
		h.fail(c, http.StatusBadRequest, common.CodeBadRequest, err.Error())
	case errors.Is(err, controller.ErrPreconditionFail):
		h.fail(c, http.StatusPreconditionFailed, common.CodePreconditionFailed, err.Error())
	case errors.Is(err, controller.ErrBadRequest):
		h.fail(c, http.StatusBadRequest, common.CodeBadRequest, err.Error())
	case errors.Is(err, manifest.ErrChecksumMismatch):
		h.fail(c, http.StatusConflict, common.CodeIntegrityConflict, err.Error())
	case errors.Is(err, manifest.ErrNotFound):
		h.fail(c, http.StatusNotFound, common.CodeNotFound, err.Error())
	default:
		h.logger.WithError(err).Error("Unhandled control error")
		h.fail(c, http.StatusInternalServerError, common.CodeInternal, err.Error())
	}
}

func (h *Handlers) fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, common.ErrorResponse{Error: msg, Code: code, Service: serviceName})
}
