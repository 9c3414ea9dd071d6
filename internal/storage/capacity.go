package storage

import (
	"fmt"
	"math"
)

// DiskStatus is a point-in-time view of the recording volume, recomputed on
// every call so callers never see stale numbers.
type DiskStatus struct {
	TotalGB                   float64 `json:"total_gb"`
	FreeGB                    float64 `json:"free_gb"`
	UsedGB                    float64 `json:"used_gb"`
	FreePercent               float64 `json:"free_percent"`
	EstimatedMinutesRemaining int     `json:"estimated_minutes_remaining"`
}

// Capacity answers free-space questions for one base directory. The probe
// function is replaceable so tests can model arbitrary disks.
type Capacity struct {
	BaseDir string
	Probe   func(path string) (*DiskSpace, error)
}

// NewCapacity returns a Capacity backed by the real filesystem.
func NewCapacity(baseDir string) *Capacity {
	return &Capacity{BaseDir: baseDir, Probe: GetDiskSpace}
}

// Status computes the current disk status and the remaining recording time
// at the given bitrate.
func (c *Capacity) Status(bitrateMbps float64) (*DiskStatus, error) {
	space, err := c.Probe(c.BaseDir)
	if err != nil {
		return nil, err
	}

	totalGB := BytesToGB(space.TotalBytes)
	freeGB := BytesToGB(space.AvailableBytes)
	usedGB := totalGB - freeGB
	freePercent := 0.0
	if space.TotalBytes > 0 {
		freePercent = float64(space.AvailableBytes) / float64(space.TotalBytes) * 100
	}

	return &DiskStatus{
		TotalGB:                   round2(totalGB),
		FreeGB:                    round2(freeGB),
		UsedGB:                    round2(usedGB),
		FreePercent:               round2(freePercent),
		EstimatedMinutesRemaining: EstimateMinutesRemaining(freeGB, bitrateMbps),
	}, nil
}

// FreeGB returns the current free space in gigabytes.
func (c *Capacity) FreeGB() (float64, error) {
	space, err := c.Probe(c.BaseDir)
	if err != nil {
		return 0, err
	}
	return BytesToGB(space.AvailableBytes), nil
}

// HasCapacity reports whether free space meets the configured minimum. Used
// both as a readiness gate and before admitting a new session.
func (c *Capacity) HasCapacity(minFreeGB float64) (bool, error) {
	freeGB, err := c.FreeGB()
	if err != nil {
		return false, err
	}
	return freeGB >= minFreeGB, nil
}

// EnsureCapacity returns ErrInsufficientSpace when free space is below the
// configured minimum.
func (c *Capacity) EnsureCapacity(minFreeGB float64) error {
	freeGB, err := c.FreeGB()
	if err != nil {
		return err
	}
	if freeGB < minFreeGB {
		return fmt.Errorf("%w: %.1fGB free, %.1fGB required", ErrInsufficientSpace, freeGB, minFreeGB)
	}
	return nil
}

// EstimateMinutesRemaining floors the recording time left at the given
// bitrate. A zero bitrate yields zero rather than dividing by it.
func EstimateMinutesRemaining(freeGB, bitrateMbps float64) int {
	if bitrateMbps <= 0 {
		return 0
	}
	mbPerSec := bitrateMbps / 8
	gbPerMinute := (mbPerSec * 60) / 1024
	return int(math.Floor(freeGB / gbPerMinute))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
