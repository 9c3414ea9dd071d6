package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/traloxolcus/soccer-rig/pkg/config"
	"github.com/traloxolcus/soccer-rig/pkg/logging"
)

// RigConfig holds all configuration for one camera node.
// Everything has a workable default so a bare environment still boots a
// simulate-mode node; rig provisioning overrides via RIG_* env vars or an
// optional YAML file.
type RigConfig struct {
	// Node identity
	CameraID string
	BaseDir  string

	// Capture parameters
	Codec                  string
	BitrateMbps            float64
	Resolution             string
	FPS                    int
	AudioEnabled           bool
	DurationMinutesDefault int

	// Sync and coordination
	NTPMasterID      string
	NTPMasterHost    string
	SyncOffsetWarnMS float64

	// Storage and retention
	FreeSpaceMinGB     float64
	DeleteAfterConfirm bool
	CleanupIntervalSec int

	// Modes
	Simulate             bool
	TestRecordingSeconds int

	// Update feed
	UpdateRepo string
}

// fileOverrides is the YAML shape accepted from RIG_CONFIG_FILE. Pointers
// distinguish "absent" from zero values so the file only overrides what it
// names.
type fileOverrides struct {
	CameraID      *string  `yaml:"camera_id"`
	BaseDir       *string  `yaml:"base_dir"`
	Codec         *string  `yaml:"codec"`
	BitrateMbps   *float64 `yaml:"bitrate_mbps"`
	Resolution    *string  `yaml:"resolution"`
	FPS           *int     `yaml:"fps"`
	AudioEnabled  *bool    `yaml:"audio_enabled"`
	NTPMasterID   *string  `yaml:"ntp_master_id"`
	NTPMasterHost *string  `yaml:"ntp_master_host"`
	Simulate      *bool    `yaml:"simulate"`
}

// Load builds the node configuration from the environment, then applies the
// optional YAML overrides file when RIG_CONFIG_FILE points at one.
func Load(logger logging.Logger) (*RigConfig, error) {
	cfg := &RigConfig{
		CameraID:               config.GetEnv("RIG_CAMERA_ID", "CAM_L"),
		BaseDir:                config.GetEnv("RIG_BASE_DIR", "data"),
		Codec:                  config.GetEnv("RIG_CODEC", "h265"),
		BitrateMbps:            config.GetEnvFloat("RIG_BITRATE_MBPS", 30),
		Resolution:             config.GetEnv("RIG_RESOLUTION", "3840x2160"),
		FPS:                    config.GetEnvInt("RIG_FPS", 30),
		AudioEnabled:           config.GetEnvBool("RIG_AUDIO_ENABLED", true),
		DurationMinutesDefault: config.GetEnvInt("RIG_DURATION_MINUTES_DEFAULT", 110),
		NTPMasterID:            config.GetEnv("RIG_NTP_MASTER_ID", "CAM_C"),
		NTPMasterHost:          config.GetEnv("RIG_NTP_MASTER_HOST", ""),
		SyncOffsetWarnMS:       config.GetEnvFloat("RIG_SYNC_OFFSET_WARN_MS", 5),
		FreeSpaceMinGB:         config.GetEnvFloat("RIG_FREE_SPACE_MIN_GB", 10),
		DeleteAfterConfirm:     config.GetEnvBool("RIG_DELETE_AFTER_CONFIRM", false),
		CleanupIntervalSec:     config.GetEnvInt("RIG_CLEANUP_INTERVAL_SEC", 300),
		Simulate:               config.GetEnvBool("RIG_SIMULATE", true),
		TestRecordingSeconds:   config.GetEnvInt("RIG_TEST_RECORDING_SECONDS", 10),
		UpdateRepo:             config.GetEnv("RIG_UPDATE_REPO", "traloxolcus/soccer-rig"),
	}

	if file := os.Getenv("RIG_CONFIG_FILE"); file != "" {
		if err := cfg.applyFile(file); err != nil {
			return nil, fmt.Errorf("config file %s: %w", file, err)
		}
		if logger != nil {
			logger.WithField("file", file).Info("Applied rig config overrides")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RigConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var over fileOverrides
	if err := yaml.Unmarshal(raw, &over); err != nil {
		return err
	}
	if over.CameraID != nil {
		c.CameraID = *over.CameraID
	}
	if over.BaseDir != nil {
		c.BaseDir = *over.BaseDir
	}
	if over.Codec != nil {
		c.Codec = *over.Codec
	}
	if over.BitrateMbps != nil {
		c.BitrateMbps = *over.BitrateMbps
	}
	if over.Resolution != nil {
		c.Resolution = *over.Resolution
	}
	if over.FPS != nil {
		c.FPS = *over.FPS
	}
	if over.AudioEnabled != nil {
		c.AudioEnabled = *over.AudioEnabled
	}
	if over.NTPMasterID != nil {
		c.NTPMasterID = *over.NTPMasterID
	}
	if over.NTPMasterHost != nil {
		c.NTPMasterHost = *over.NTPMasterHost
	}
	if over.Simulate != nil {
		c.Simulate = *over.Simulate
	}
	return nil
}

func (c *RigConfig) validate() error {
	if c.CameraID == "" {
		return fmt.Errorf("camera id must not be empty")
	}
	if c.BitrateMbps < 0 {
		return fmt.Errorf("bitrate must not be negative")
	}
	if c.FPS <= 0 {
		return fmt.Errorf("fps must be positive")
	}
	return nil
}

// SyncRole reports this node's clock role within the rig.
func (c *RigConfig) SyncRole() string {
	if c.CameraID == c.NTPMasterID {
		return "master"
	}
	return "client"
}

// RecordingsDir is where finished and in-flight clips live.
func (c *RigConfig) RecordingsDir() string {
	return filepath.Join(c.BaseDir, "recordings")
}

// ManifestsDir is where per-session manifests live.
func (c *RigConfig) ManifestsDir() string {
	return filepath.Join(c.BaseDir, "manifests")
}

// EnsureDirectories creates the storage layout under BaseDir.
func (c *RigConfig) EnsureDirectories() error {
	for _, dir := range []string{c.BaseDir, c.RecordingsDir(), c.ManifestsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
