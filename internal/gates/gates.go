// Package gates implements the readiness and safety checks that must pass
// before the recorder starts a session. None of the checks return errors;
// each yields a boolean plus a human-readable reason so the controller can
// decide how to surface failures. A missing sensor is informational, never
// blocking.
package gates

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/traloxolcus/soccer-rig/internal/storage"
)

const (
	TempLimitC      = 85.0
	BatteryCritical = 10
)

// Default sensor paths on the rig's Raspberry Pi image.
const (
	DefaultCameraDevice = "/dev/video0"
	DefaultThermalPath  = "/sys/class/thermal/thermal_zone0/temp"
	DefaultBatteryPath  = "/sys/class/power_supply/BAT0/capacity"
)

// Report is the outcome of a single readiness gate.
type Report struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Checker evaluates the gate set. Sensor paths are fields so tests can point
// them into a temp dir. SimulateCamera waives the device-node check on
// nodes running without capture hardware.
type Checker struct {
	CameraDevice   string
	ThermalPath    string
	BatteryPath    string
	SimulateCamera bool
}

// NewChecker returns a Checker wired to the default sensor paths.
func NewChecker() *Checker {
	return &Checker{
		CameraDevice: DefaultCameraDevice,
		ThermalPath:  DefaultThermalPath,
		BatteryPath:  DefaultBatteryPath,
	}
}

// All runs every gate in its fixed order: camera device, storage
// writability, free space, temperature, battery.
func (c *Checker) All(baseDir string, minFreeGB float64) []Report {
	return []Report{
		c.CameraPresent(),
		c.StorageWritable(baseDir),
		c.FreeSpace(baseDir, minFreeGB),
		c.TemperatureSafe(),
		c.BatterySafe(),
	}
}

// AllOK reports whether every gate in the set passed.
func AllOK(reports []Report) bool {
	for _, r := range reports {
		if !r.OK {
			return false
		}
	}
	return true
}

// FailureReasons concatenates the reasons of every failed gate.
func FailureReasons(reports []Report) string {
	var reasons []string
	for _, r := range reports {
		if !r.OK && r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}
	return strings.Join(reasons, "; ")
}

// CameraPresent checks that the capture device node exists.
func (c *Checker) CameraPresent() Report {
	if c.SimulateCamera {
		return Report{Name: "camera", OK: true, Reason: "Camera check skipped in simulate mode"}
	}
	if _, err := os.Stat(c.CameraDevice); err == nil {
		return Report{Name: "camera", OK: true}
	}
	return Report{Name: "camera", OK: false, Reason: fmt.Sprintf("Camera device missing at %s", c.CameraDevice)}
}

// StorageWritable verifies the recording volume accepts writes.
func (c *Checker) StorageWritable(baseDir string) Report {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return Report{Name: "storage", OK: false, Reason: fmt.Sprintf("NVMe not writable: %v", err)}
	}
	probe := filepath.Join(baseDir, ".recording-write-test")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return Report{Name: "storage", OK: false, Reason: fmt.Sprintf("NVMe not writable: %v", err)}
	}
	_ = os.Remove(probe)
	return Report{Name: "storage", OK: true}
}

// FreeSpace checks free capacity against the configured threshold.
func (c *Checker) FreeSpace(baseDir string, minFreeGB float64) Report {
	space, err := storage.GetDiskSpace(baseDir)
	if err != nil {
		return Report{Name: "space", OK: false, Reason: fmt.Sprintf("Disk query failed: %v", err)}
	}
	freeGB := storage.BytesToGB(space.AvailableBytes)
	if freeGB >= minFreeGB {
		return Report{Name: "space", OK: true}
	}
	return Report{Name: "space", OK: false, Reason: fmt.Sprintf("Low disk: %.1fGB < %.0fGB threshold", freeGB, minFreeGB)}
}

// TemperatureSafe reads the SoC thermal zone. An absent sensor passes with
// an informational reason.
func (c *Checker) TemperatureSafe() Report {
	raw, err := os.ReadFile(c.ThermalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Report{Name: "temperature", OK: true, Reason: "Temperature sensor unavailable"}
		}
		return Report{Name: "temperature", OK: false, Reason: "Temperature read failed"}
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return Report{Name: "temperature", OK: false, Reason: "Temperature read failed"}
	}
	tempC := milli / 1000
	if tempC < TempLimitC {
		return Report{Name: "temperature", OK: true}
	}
	return Report{Name: "temperature", OK: false, Reason: fmt.Sprintf("Overheating: %.1fC >= %.0fC", tempC, TempLimitC)}
}

// BatterySafe reads the battery capacity. An absent sensor passes with an
// informational reason.
func (c *Checker) BatterySafe() Report {
	raw, err := os.ReadFile(c.BatteryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Report{Name: "battery", OK: true, Reason: "Battery sensor unavailable"}
		}
		return Report{Name: "battery", OK: false, Reason: "Battery read failed"}
	}
	percent, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return Report{Name: "battery", OK: false, Reason: "Battery read failed"}
	}
	if percent > BatteryCritical {
		return Report{Name: "battery", OK: true}
	}
	return Report{Name: "battery", OK: false, Reason: fmt.Sprintf("Battery critically low: %d%%", percent)}
}

// ReadTemperatureC returns the SoC temperature in Celsius, or nil when the
// sensor is absent or unreadable. Shared with the status aggregator.
func (c *Checker) ReadTemperatureC() *float64 {
	raw, err := os.ReadFile(c.ThermalPath)
	if err != nil {
		return nil
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return nil
	}
	tempC := milli / 1000
	return &tempC
}

// ReadBatteryPercent returns the battery charge percentage, or nil when the
// sensor is absent or unreadable.
func (c *Checker) ReadBatteryPercent() *int {
	raw, err := os.ReadFile(c.BatteryPath)
	if err != nil {
		return nil
	}
	percent, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil
	}
	return &percent
}
