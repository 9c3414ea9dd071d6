package clocksync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/traloxolcus/soccer-rig/pkg/logging"
)

// Health combines the latest telemetry with daemon-level state.
type Health struct {
	Telemetry     Telemetry `json:"telemetry"`
	ChronyRunning bool      `json:"chrony_running"`
	Sources       []string  `json:"sources"`
	LastError     string    `json:"last_error,omitempty"`
}

// Agent drives chrony role configuration and exposes runtime telemetry.
// Configuration problems are recorded in Health but never prevent telemetry
// collection: the rig degrades instead of failing closed.
type Agent struct {
	role       string
	masterHost string
	statusPath string
	poller     *Poller
	run        CommandRunner
	logger     logging.Logger
}

// NewAgent builds an Agent for the given role. masterHost is only used by
// client-role nodes; statusPath, when non-empty, receives a JSON health dump
// on every Status call.
func NewAgent(role, masterHost, statusPath string, logger logging.Logger) *Agent {
	return &Agent{
		role:       role,
		masterHost: masterHost,
		statusPath: statusPath,
		poller:     NewPoller(),
		run:        defaultRunner,
		logger:     logger,
	}
}

// Status polls telemetry and daemon state.
func (a *Agent) Status() Health {
	sources, srcErr := a.chronySources()
	health := Health{
		Telemetry:     a.poller.Poll(a.role),
		ChronyRunning: a.chronyActive(),
		Sources:       sources,
		LastError:     srcErr,
	}
	if a.statusPath != "" {
		a.writeStatus(health)
	}
	return health
}

// Poll returns a fresh telemetry sample without the daemon-level extras.
func (a *Agent) Poll() Telemetry {
	return a.poller.Poll(a.role)
}

// Configure ensures chrony is running and, for client nodes, pointed at the
// configured master. Idempotent; errors are collected into the returned
// Health rather than returned.
func (a *Agent) Configure() Health {
	var errs []string

	if !a.chronyActive() {
		if _, err := a.run(5*time.Second, "systemctl", "start", "chronyd"); err != nil {
			errs = append(errs, "cannot start chronyd: "+err.Error())
		}
	}

	if a.role == RoleClient && a.masterHost != "" {
		if _, err := a.run(commandTimeout, "chronyc", "add", "server", a.masterHost); err != nil {
			errs = append(errs, "cannot set preferred server: "+err.Error())
		}
	}

	health := a.Status()
	if len(errs) > 0 && health.LastError == "" {
		health.LastError = strings.Join(errs, "; ")
		if a.statusPath != "" {
			a.writeStatus(health)
		}
	}
	if health.LastError != "" && a.logger != nil {
		a.logger.WithField("error", health.LastError).Warn("Sync agent configured with degraded state")
	}
	return health
}

func (a *Agent) chronyActive() bool {
	out, err := a.run(commandTimeout, "systemctl", "is-active", "chronyd")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "active"
}

func (a *Agent) chronySources() ([]string, string) {
	out, err := a.run(commandTimeout, "chronyc", "sources", "-n")
	if err != nil {
		return nil, "chronyc sources unavailable: " + err.Error()
	}

	var sources []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "Name/IP") || strings.HasPrefix(line, "==") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		// chronyc prefixes each source row with a mode/state marker
		if strings.ContainsAny(parts[0][:1], "^#=*?+") && len(parts) >= 2 {
			sources = append(sources, parts[1])
		} else {
			sources = append(sources, parts[0])
		}
	}
	return sources, ""
}

func (a *Agent) writeStatus(health Health) {
	payload, err := json.MarshalIndent(health, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(a.statusPath), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(a.statusPath, payload, 0o644)
}
