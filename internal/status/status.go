// Package status composes one point-in-time report of the whole node:
// identity, active session, storage, clock sync, sensors, and derived
// warnings. The report is what operators poll during a match, so it never
// fails hard; unavailable probes are omitted rather than erroring.
package status

import (
	"fmt"
	"time"

	"github.com/traloxolcus/soccer-rig/internal/clocksync"
	"github.com/traloxolcus/soccer-rig/internal/config"
	"github.com/traloxolcus/soccer-rig/internal/gates"
	"github.com/traloxolcus/soccer-rig/internal/pipeline"
	"github.com/traloxolcus/soccer-rig/internal/storage"
	"github.com/traloxolcus/soccer-rig/pkg/api/rigcam"
	"github.com/traloxolcus/soccer-rig/pkg/logging"
	"github.com/traloxolcus/soccer-rig/pkg/version"
)

// TempWarnC is the early-warning threshold, below the hard gate limit.
const TempWarnC = 80.0

// Report is the aggregated node status.
type Report struct {
	CameraID       string               `json:"camera_id"`
	Role           string               `json:"role"`
	Version        string               `json:"version"`
	UptimeSeconds  int                  `json:"uptime_seconds"`
	Recording      bool                 `json:"recording"`
	Session        *rigcam.SessionInfo  `json:"session,omitempty"`
	Pipeline       *pipeline.Metrics    `json:"pipeline,omitempty"`
	Disk           *storage.DiskStatus  `json:"disk,omitempty"`
	Sync           clocksync.Telemetry  `json:"sync"`
	TemperatureC   *float64             `json:"temperature_c,omitempty"`
	BatteryPercent *int                 `json:"battery_percent,omitempty"`
	Warnings       []string             `json:"warnings"`
}

// SessionSource is the slice of the controller the aggregator needs.
type SessionSource interface {
	ActiveSession() (*rigcam.SessionInfo, bool)
	PipelineMetrics() (pipeline.Metrics, bool)
}

// TelemetrySource supplies a fresh clock-sync sample.
type TelemetrySource interface {
	Poll() clocksync.Telemetry
}

// Aggregator builds Reports from the node's live components.
type Aggregator struct {
	cfg       *config.RigConfig
	sessions  SessionSource
	capacity  *storage.Capacity
	sync      TelemetrySource
	sensors   *gates.Checker
	logger    logging.Logger
	startedAt time.Time
}

// NewAggregator wires a status Aggregator. startedAt drives the uptime
// field.
func NewAggregator(
	cfg *config.RigConfig,
	sessions SessionSource,
	capacity *storage.Capacity,
	sync TelemetrySource,
	sensors *gates.Checker,
	logger logging.Logger,
) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		sessions:  sessions,
		capacity:  capacity,
		sync:      sync,
		sensors:   sensors,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Snapshot assembles the current Report.
func (a *Aggregator) Snapshot() *Report {
	rep := &Report{
		CameraID:      a.cfg.CameraID,
		Role:          a.cfg.SyncRole(),
		Version:       version.Version,
		UptimeSeconds: int(time.Since(a.startedAt).Seconds()),
		Warnings:      []string{},
	}

	if sess, ok := a.sessions.ActiveSession(); ok {
		rep.Recording = true
		rep.Session = sess
	}
	if metrics, ok := a.sessions.PipelineMetrics(); ok {
		rep.Pipeline = &metrics
	}

	if disk, err := a.capacity.Status(a.cfg.BitrateMbps); err == nil {
		rep.Disk = disk
	} else {
		a.logger.WithError(err).Warn("Disk probe failed during status snapshot")
	}

	rep.Sync = a.sync.Poll()
	rep.TemperatureC = a.sensors.ReadTemperatureC()
	rep.BatteryPercent = a.sensors.ReadBatteryPercent()
	rep.Warnings = a.warnings(rep)
	return rep
}

// warnings derives operator-facing alerts from the snapshot. Thresholds for
// temperature and battery warn earlier than the hard safety gates so crews
// can react before a start gets refused.
func (a *Aggregator) warnings(rep *Report) []string {
	warns := []string{}

	if rep.Disk != nil && rep.Disk.FreeGB < a.cfg.FreeSpaceMinGB {
		warns = append(warns, fmt.Sprintf("Low disk: %.1fGB free, %.0fGB required", rep.Disk.FreeGB, a.cfg.FreeSpaceMinGB))
	}

	offset := rep.Sync.OffsetMS
	if offset < 0 {
		offset = -offset
	}
	if rep.Sync.Confidence == clocksync.ConfidenceGood && offset > a.cfg.SyncOffsetWarnMS {
		warns = append(warns, fmt.Sprintf("Clock offset %.3fms exceeds %.1fms threshold", rep.Sync.OffsetMS, a.cfg.SyncOffsetWarnMS))
	} else if rep.Sync.Confidence != clocksync.ConfidenceGood {
		warns = append(warns, fmt.Sprintf("Clock sync degraded: %s", rep.Sync.Confidence))
	}

	if rep.TemperatureC != nil && *rep.TemperatureC >= TempWarnC {
		warns = append(warns, fmt.Sprintf("Temperature high: %.1fC", *rep.TemperatureC))
	}

	if rep.BatteryPercent != nil && *rep.BatteryPercent <= gates.BatteryCritical {
		warns = append(warns, fmt.Sprintf("Battery critical: %d%%", *rep.BatteryPercent))
	}

	if rep.Session != nil && rep.Session.TargetSeconds > 0 && rep.Session.ElapsedSeconds >= rep.Session.TargetSeconds {
		warns = append(warns, "Session reached target duration, finalizing soon")
	}

	return warns
}
