package clocksync

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sourcesOutput = `MS Name/IP address         Stratum Poll Reach LastRx Last sample
===============================================================================
^* 192.168.1.10                  2   6   377    32    -45us[  -51us] +/-  12ms
^- 192.168.1.11                  3   6   377    30   +120us[ +130us] +/-  30ms
`

// scriptedRunner routes commands to canned results keyed by binary+verb.
func scriptedRunner(results map[string]struct {
	out string
	err error
}) CommandRunner {
	return func(_ time.Duration, name string, args ...string) (string, error) {
		key := name
		if len(args) > 0 {
			key = name + " " + args[0]
		}
		if r, ok := results[key]; ok {
			return r.out, r.err
		}
		return "", exec.ErrNotFound
	}
}

func newTestAgent(role string, run CommandRunner, statusPath string) *Agent {
	a := NewAgent(role, "cam-c.rig", statusPath, nil)
	a.run = run
	a.poller.Run = run
	return a
}

func TestStatusCollectsSources(t *testing.T) {
	run := scriptedRunner(map[string]struct {
		out string
		err error
	}{
		"chronyc tracking": {out: trackingOutput},
		"chronyc sources":  {out: sourcesOutput},
		"systemctl is-active": {
			out: "active\n",
		},
	})

	health := newTestAgent(RoleClient, run, "").Status()
	if !health.ChronyRunning {
		t.Fatalf("expected chrony running")
	}
	if len(health.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %v", health.Sources)
	}
	if health.Sources[0] != "192.168.1.10" {
		t.Fatalf("unexpected first source: %s", health.Sources[0])
	}
	if health.LastError != "" {
		t.Fatalf("unexpected error: %s", health.LastError)
	}
}

func TestConfigureDegradesWithoutSystemctl(t *testing.T) {
	run := scriptedRunner(map[string]struct {
		out string
		err error
	}{
		"chronyc tracking": {out: trackingOutput},
		"chronyc sources":  {out: sourcesOutput},
	})

	health := newTestAgent(RoleClient, run, "").Configure()
	if health.LastError == "" {
		t.Fatalf("expected configuration error to be recorded")
	}
	// telemetry still collected despite configuration failure
	if health.Telemetry.Confidence != ConfidenceGood {
		t.Fatalf("expected telemetry despite config failure, got %s", health.Telemetry.Confidence)
	}
}

func TestConfigureMasterSkipsServerAdd(t *testing.T) {
	var added bool
	run := func(_ time.Duration, name string, args ...string) (string, error) {
		if name == "chronyc" && len(args) > 0 && args[0] == "add" {
			added = true
		}
		if name == "systemctl" && args[0] == "is-active" {
			return "active\n", nil
		}
		if name == "chronyc" && args[0] == "tracking" {
			return trackingOutput, nil
		}
		return "", nil
	}

	newTestAgent(RoleMaster, run, "").Configure()
	if added {
		t.Fatalf("master node must not add a server entry")
	}
}

func TestStatusWritesStatusFile(t *testing.T) {
	run := scriptedRunner(map[string]struct {
		out string
		err error
	}{
		"chronyc tracking":    {out: trackingOutput},
		"chronyc sources":     {out: sourcesOutput},
		"systemctl is-active": {out: "active\n"},
	})

	path := filepath.Join(t.TempDir(), "sync", "status.json")
	newTestAgent(RoleClient, run, path).Status()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected status file: %v", err)
	}
	var health Health
	if err := json.Unmarshal(raw, &health); err != nil {
		t.Fatalf("invalid status payload: %v", err)
	}
	if health.Telemetry.Role != RoleClient {
		t.Fatalf("unexpected role in status file: %s", health.Telemetry.Role)
	}
	if !strings.Contains(string(raw), "offset_ms") {
		t.Fatalf("expected offset in status payload")
	}
}
