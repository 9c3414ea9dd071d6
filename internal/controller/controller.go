// Package controller owns the recording session lifecycle for one camera
// node. Exactly one session can be active at a time; every mutation of the
// active session happens under a single mutex so concurrent start, stop and
// auto-stop requests serialize into one winner.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/traloxolcus/soccer-rig/internal/clocksync"
	"github.com/traloxolcus/soccer-rig/internal/config"
	"github.com/traloxolcus/soccer-rig/internal/gates"
	"github.com/traloxolcus/soccer-rig/internal/manifest"
	"github.com/traloxolcus/soccer-rig/internal/pipeline"
	"github.com/traloxolcus/soccer-rig/internal/storage"
	"github.com/traloxolcus/soccer-rig/pkg/api/rigcam"
	"github.com/traloxolcus/soccer-rig/pkg/logging"
	"github.com/traloxolcus/soccer-rig/pkg/version"
)

var (
	ErrSessionActive    = errors.New("a recording session is already active")
	ErrNoActiveSession  = errors.New("no active recording session")
	ErrCameraMismatch   = errors.New("request targets a different camera")
	ErrPreconditionFail = errors.New("readiness gates failed")
	ErrBadRequest       = errors.New("invalid request")
)

// TelemetrySource supplies a fresh clock-sync sample on demand.
type TelemetrySource interface {
	Poll() clocksync.Telemetry
}

// Metrics are the prometheus instruments the controller feeds. Any field
// may be nil, which disables that instrument.
type Metrics struct {
	Operations *prometheus.CounterVec
	Evictions  *prometheus.CounterVec
	DiskFreeGB *prometheus.GaugeVec
	Active     *prometheus.GaugeVec
}

type session struct {
	info rigcam.SessionInfo
	sup  *pipeline.Supervisor
}

// Controller coordinates gates, pipeline, clock sync and the manifest store
// into the node's session operations.
type Controller struct {
	cfg      *config.RigConfig
	store    *manifest.Store
	capacity *storage.Capacity
	gates    *gates.Checker
	sync     TelemetrySource
	runner   pipeline.Runner
	logger   logging.Logger
	metrics  Metrics

	testRecDuration time.Duration
	targetDuration  time.Duration

	mu      sync.Mutex
	active  *session
	testing bool
}

// New builds a Controller. runner selects simulate or real capture mode.
func New(
	cfg *config.RigConfig,
	store *manifest.Store,
	capacity *storage.Capacity,
	checker *gates.Checker,
	sync TelemetrySource,
	runner pipeline.Runner,
	metrics Metrics,
	logger logging.Logger,
) *Controller {
	return &Controller{
		cfg:             cfg,
		store:           store,
		capacity:        capacity,
		gates:           checker,
		sync:            sync,
		runner:          runner,
		metrics:         metrics,
		logger:          logger,
		testRecDuration: time.Duration(cfg.TestRecordingSeconds) * time.Second,
		targetDuration:  time.Duration(cfg.DurationMinutesDefault) * time.Minute,
	}
}

// Start begins a new recording session. The fixed gate order runs first and
// any failure rejects the request with the joined reasons. A concurrent
// Start while a session is active observes ErrSessionActive.
func (c *Controller) Start(req rigcam.StartRecordingRequest) (*rigcam.SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil || c.testing {
		c.countOp("start", "rejected")
		return nil, ErrSessionActive
	}
	if req.CameraID != "" && req.CameraID != c.cfg.CameraID {
		c.countOp("start", "rejected")
		return nil, fmt.Errorf("%w: got %q, this node is %q", ErrCameraMismatch, req.CameraID, c.cfg.CameraID)
	}

	reports := c.gates.All(c.cfg.BaseDir, c.cfg.FreeSpaceMinGB)
	if !gates.AllOK(reports) {
		c.countOp("start", "rejected")
		return nil, fmt.Errorf("%w: %s", ErrPreconditionFail, gates.FailureReasons(reports))
	}
	if err := c.capacity.EnsureCapacity(c.cfg.FreeSpaceMinGB); err != nil {
		c.countOp("start", "rejected")
		return nil, fmt.Errorf("%w: %v", ErrPreconditionFail, err)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	sample := c.sync.Poll()
	startLocal := time.Now()
	startMaster := startLocal.Add(time.Duration(sample.OffsetMS * float64(time.Millisecond)))

	audio := c.cfg.AudioEnabled
	if req.AudioEnabled != nil {
		audio = *req.AudioEnabled
	}
	bitrate := c.cfg.BitrateMbps
	if req.BitrateMbps != nil {
		bitrate = *req.BitrateMbps
	}
	codec := c.cfg.Codec
	if req.Codec != "" {
		codec = req.Codec
	}

	fileName := fmt.Sprintf("%s_%s_%s.mp4", sessionID, c.cfg.CameraID, startLocal.Format("20060102_150405"))
	target := c.targetDuration
	if req.DurationMinutes != nil {
		target = time.Duration(*req.DurationMinutes) * time.Minute
	}

	sup := pipeline.NewSupervisor(c.runner, c.logger)
	params := pipeline.Params{
		OutputPath:     filepath.Join(c.cfg.RecordingsDir(), fileName),
		Resolution:     c.cfg.Resolution,
		FPS:            c.cfg.FPS,
		Codec:          codec,
		BitrateMbps:    bitrate,
		AudioEnabled:   audio,
		TargetDuration: target,
	}
	if err := sup.Start(params, func() { c.autoStop(sessionID) }); err != nil {
		c.countOp("start", "error")
		return nil, fmt.Errorf("pipeline start: %w", err)
	}

	info := rigcam.SessionInfo{
		SessionID:       sessionID,
		CameraID:        c.cfg.CameraID,
		FileName:        fileName,
		StartTimeLocal:  startLocal,
		StartTimeMaster: startMaster,
		OffsetMS:        sample.OffsetMS,
		TargetSeconds:   int(target.Seconds()),
		AudioEnabled:    audio,
		BitrateMbps:     bitrate,
		Codec:           codec,
		Resolution:      c.cfg.Resolution,
		FPS:             c.cfg.FPS,
	}
	c.active = &session{info: info, sup: sup}

	c.countOp("start", "ok")
	c.gaugeActive(1)
	c.logger.WithFields(logging.Fields{
		"session_id": sessionID,
		"file":       fileName,
		"offset_ms":  sample.OffsetMS,
		"confidence": sample.Confidence,
	}).Info("Recording session started")

	out := info
	return &out, nil
}

// Stop finalizes the active session: the pipeline winds down, a manifest is
// written, and the session slot frees.
func (c *Controller) Stop() (*rigcam.StopRecordingResponse, error) {
	return c.stopSession("")
}

// stopSession is the single finalization path. The mutex is held from the
// identity check through the manifest write, so a racing stop or auto-stop
// observes ErrNoActiveSession instead of double-finalizing. A non-empty
// sessionID restricts the stop to that session; a stale auto-stop timer
// whose session already ended therefore cannot finalize its successor.
func (c *Controller) stopSession(sessionID string) (*rigcam.StopRecordingResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || (sessionID != "" && c.active.info.SessionID != sessionID) {
		c.countOp("stop", "rejected")
		return nil, ErrNoActiveSession
	}
	sess := c.active

	result, err := sess.sup.Stop()
	if err != nil {
		c.countOp("stop", "error")
		return nil, fmt.Errorf("pipeline stop: %w", err)
	}

	ended := result.EndedAt
	rec := &manifest.Record{
		SessionID:         sess.info.SessionID,
		CameraID:          sess.info.CameraID,
		FileName:          sess.info.FileName,
		StartTimeMaster:   sess.info.StartTimeMaster,
		StartTimeLocal:    sess.info.StartTimeLocal,
		OffsetMS:          sess.info.OffsetMS,
		DurationSeconds:   result.DurationSeconds,
		EndedAt:           &ended,
		Resolution:        sess.info.Resolution,
		FPS:               sess.info.FPS,
		Codec:             sess.info.Codec,
		BitrateMbps:       sess.info.BitrateMbps,
		DroppedFrames:     result.Metrics.DroppedFrames,
		EncodeErrors:      result.Metrics.EncodeErrors,
		LastPipelineError: result.Metrics.LastError,
		AudioEnabled:      sess.info.AudioEnabled,
		Checksum:          result.Checksum,
		SoftwareVersion:   version.Version,
	}
	if err := c.store.Write(rec); err != nil {
		c.countOp("stop", "error")
		return nil, fmt.Errorf("manifest write: %w", err)
	}

	c.active = nil
	c.countOp("stop", "ok")
	c.gaugeActive(0)
	if _, err := c.Cleanup(); err != nil {
		c.logger.WithError(err).Warn("Post-stop cleanup failed")
	}

	c.logger.WithFields(logging.Fields{
		"session_id": sess.info.SessionID,
		"duration_s": result.DurationSeconds,
		"dropped":    result.Metrics.DroppedFrames,
	}).Info("Recording session finalized")

	return &rigcam.StopRecordingResponse{
		SessionID:       sess.info.SessionID,
		CameraID:        sess.info.CameraID,
		DurationSeconds: result.DurationSeconds,
		ManifestPath:    c.store.Path(sess.info.SessionID, sess.info.CameraID),
	}, nil
}

// autoStop is the target-duration timer callback. Losing the race against
// an explicit stop is fine; the session is gone either way.
func (c *Controller) autoStop(sessionID string) {
	_, err := c.stopSession(sessionID)
	switch {
	case err == nil:
		c.logger.WithField("session_id", sessionID).Info("Target duration reached, session stopped")
	case errors.Is(err, ErrNoActiveSession):
		// an explicit stop won the race
	default:
		c.logger.WithError(err).Error("Automatic stop failed")
	}
}

// ActiveSession returns a snapshot of the in-flight session, with elapsed
// time filled in, or false when idle.
func (c *Controller) ActiveSession() (*rigcam.SessionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil, false
	}
	info := c.active.info
	info.ElapsedSeconds = int(c.active.sup.Elapsed().Seconds())
	return &info, true
}

// PipelineMetrics exposes live diagnostic counters for the status surface.
func (c *Controller) PipelineMetrics() (pipeline.Metrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return pipeline.Metrics{}, false
	}
	return c.active.sup.MetricsSnapshot(), true
}

// ConfirmOffload flips a finished recording's offloaded flag after the
// caller proves it holds an intact copy. An eviction pass always follows:
// with delete-after-confirm enabled it removes the confirmed clip right
// away, otherwise it frees offloaded clips only while the node is below
// its free-space minimum.
func (c *Controller) ConfirmOffload(req rigcam.ConfirmOffloadRequest) (*manifest.Record, error) {
	if req.Checksum.Algo != "" && req.Checksum.Algo != manifest.ChecksumAlgo {
		return nil, fmt.Errorf("%w: unsupported checksum algo %q", ErrBadRequest, req.Checksum.Algo)
	}

	rec, err := c.store.MarkOffloaded(req.SessionID, req.CameraID, req.File, req.Checksum.Value)
	if err != nil {
		c.countOp("confirm_offload", "error")
		return nil, err
	}
	c.countOp("confirm_offload", "ok")

	if _, err := c.Cleanup(); err != nil {
		c.logger.WithError(err).Warn("Post-confirm cleanup failed")
	}
	return rec, nil
}

// RecordingsList pairs the stored manifests with a snapshot of the
// in-flight session, when one exists.
type RecordingsList struct {
	Recordings []*manifest.Record  `json:"recordings"`
	Active     *rigcam.SessionInfo `json:"active,omitempty"`
}

// List returns every stored manifest, oldest first, plus the active
// session with its live elapsed time when a recording is in flight.
func (c *Controller) List() (*RecordingsList, error) {
	records, err := c.store.List()
	if err != nil {
		return nil, err
	}
	list := &RecordingsList{Recordings: records}
	if info, ok := c.ActiveSession(); ok {
		list.Active = info
	}
	return list, nil
}

// SelfTest runs the readiness gates and reports per-gate outcomes.
func (c *Controller) SelfTest() *rigcam.SelfTestResponse {
	reports := c.gates.All(c.cfg.BaseDir, c.cfg.FreeSpaceMinGB)
	details := make([]string, 0, len(reports))
	for _, r := range reports {
		line := r.Name + ": ok"
		if r.Reason != "" {
			line = fmt.Sprintf("%s: %s", r.Name, r.Reason)
		} else if !r.OK {
			line = r.Name + ": failed"
		}
		details = append(details, line)
	}
	return &rigcam.SelfTestResponse{Passed: gates.AllOK(reports), Details: details}
}

// TestRecording captures a short bounded clip to prove the full pipeline
// works, then removes it. Rejected while a real session is active.
func (c *Controller) TestRecording() (*rigcam.TestRecordingResponse, error) {
	c.mu.Lock()
	if c.active != nil || c.testing {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	c.testing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.testing = false
		c.mu.Unlock()
	}()

	out := filepath.Join(c.cfg.RecordingsDir(), fmt.Sprintf("testclip_%s_%s.mp4", c.cfg.CameraID, time.Now().Format("20060102_150405")))
	defer os.Remove(out)

	sup := pipeline.NewSupervisor(c.runner, c.logger)
	params := pipeline.Params{
		OutputPath:   out,
		Resolution:   c.cfg.Resolution,
		FPS:          c.cfg.FPS,
		Codec:        c.cfg.Codec,
		BitrateMbps:  c.cfg.BitrateMbps,
		AudioEnabled: c.cfg.AudioEnabled,
	}
	started := time.Now()
	if err := sup.Start(params, nil); err != nil {
		c.countOp("test_recording", "error")
		return &rigcam.TestRecordingResponse{Passed: false, Detail: fmt.Sprintf("pipeline start failed: %v", err)}, nil
	}
	time.Sleep(c.testRecDuration)
	result, err := sup.Stop()
	if err != nil {
		c.countOp("test_recording", "error")
		return &rigcam.TestRecordingResponse{Passed: false, Detail: fmt.Sprintf("pipeline stop failed: %v", err)}, nil
	}

	fi, err := os.Stat(out)
	if err != nil || fi.Size() == 0 {
		c.countOp("test_recording", "failed")
		return &rigcam.TestRecordingResponse{
			Passed:          false,
			DurationSeconds: result.DurationSeconds,
			Detail:          "pipeline produced no output",
		}, nil
	}

	c.countOp("test_recording", "ok")
	detail := fmt.Sprintf("captured %d bytes in %ds", fi.Size(), int(time.Since(started).Seconds()))
	return &rigcam.TestRecordingResponse{
		Passed:          true,
		DurationSeconds: result.DurationSeconds,
		Detail:          detail,
	}, nil
}

// Cleanup runs one eviction pass and refreshes the disk gauge.
func (c *Controller) Cleanup() ([]string, error) {
	removed, err := c.store.Cleanup(c.cfg.FreeSpaceMinGB, c.cfg.DeleteAfterConfirm)
	if err != nil {
		return removed, err
	}
	for range removed {
		c.countEviction("capacity")
	}
	c.updateDiskGauge()
	return removed, nil
}

// RunCleanupLoop sweeps storage on the configured interval until the
// context ends. A non-positive interval disables the loop.
func (c *Controller) RunCleanupLoop(ctx context.Context) {
	if c.cfg.CleanupIntervalSec <= 0 {
		c.logger.Info("Background cleanup disabled")
		return
	}
	interval := time.Duration(c.cfg.CleanupIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.WithField("interval", interval.String()).Info("Background cleanup started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := c.Cleanup(); err != nil {
				c.logger.WithError(err).Error("Cleanup sweep failed")
			} else if len(removed) > 0 {
				c.logger.WithField("removed", len(removed)).Info("Cleanup sweep evicted recordings")
			}
		}
	}
}

func (c *Controller) countOp(operation, status string) {
	if c.metrics.Operations != nil {
		c.metrics.Operations.WithLabelValues(operation, status).Inc()
	}
}

func (c *Controller) countEviction(reason string) {
	if c.metrics.Evictions != nil {
		c.metrics.Evictions.WithLabelValues(reason).Inc()
	}
}

func (c *Controller) gaugeActive(n float64) {
	if c.metrics.Active != nil {
		c.metrics.Active.WithLabelValues(c.cfg.CameraID).Set(n)
	}
}

func (c *Controller) updateDiskGauge() {
	if c.metrics.DiskFreeGB == nil {
		return
	}
	if free, err := c.capacity.FreeGB(); err == nil {
		c.metrics.DiskFreeGB.WithLabelValues(c.cfg.BaseDir).Set(free)
	}
}
