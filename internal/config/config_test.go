package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RIG_CAMERA_ID", "")
	t.Setenv("RIG_CONFIG_FILE", "")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CameraID != "CAM_L" {
		t.Fatalf("expected default camera id CAM_L, got %s", cfg.CameraID)
	}
	if !cfg.Simulate {
		t.Fatalf("expected simulate mode by default")
	}
	if cfg.FreeSpaceMinGB != 10 {
		t.Fatalf("expected 10GB threshold, got %v", cfg.FreeSpaceMinGB)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RIG_CAMERA_ID", "CAM_R")
	t.Setenv("RIG_BITRATE_MBPS", "18.5")
	t.Setenv("RIG_SIMULATE", "false")
	t.Setenv("RIG_CONFIG_FILE", "")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CameraID != "CAM_R" {
		t.Fatalf("expected CAM_R, got %s", cfg.CameraID)
	}
	if cfg.BitrateMbps != 18.5 {
		t.Fatalf("expected 18.5, got %v", cfg.BitrateMbps)
	}
	if cfg.Simulate {
		t.Fatalf("expected simulate disabled")
	}
}

func TestLoadFileOverridesEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rig.yaml")
	payload := "camera_id: CAM_C\nbitrate_mbps: 25\nntp_master_host: 10.0.0.1\n"
	if err := os.WriteFile(file, []byte(payload), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	t.Setenv("RIG_CAMERA_ID", "CAM_L")
	t.Setenv("RIG_CONFIG_FILE", file)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CameraID != "CAM_C" {
		t.Fatalf("expected file override CAM_C, got %s", cfg.CameraID)
	}
	if cfg.BitrateMbps != 25 {
		t.Fatalf("expected 25, got %v", cfg.BitrateMbps)
	}
	if cfg.NTPMasterHost != "10.0.0.1" {
		t.Fatalf("expected master host override, got %s", cfg.NTPMasterHost)
	}
	// untouched fields keep their env/default values
	if cfg.Resolution != "3840x2160" {
		t.Fatalf("expected default resolution, got %s", cfg.Resolution)
	}
}

func TestSyncRole(t *testing.T) {
	cfg := &RigConfig{CameraID: "CAM_C", NTPMasterID: "CAM_C"}
	if cfg.SyncRole() != "master" {
		t.Fatalf("expected master role")
	}
	cfg.CameraID = "CAM_L"
	if cfg.SyncRole() != "client" {
		t.Fatalf("expected client role")
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("RIG_FPS", "0")
	t.Setenv("RIG_CONFIG_FILE", "")
	if _, err := Load(nil); err == nil {
		t.Fatalf("expected validation error for fps=0")
	}
}
