// Package clocksync reads clock-synchronization telemetry from chrony and
// manages the node's sync role within the rig. Telemetry collection never
// fails hard: a missing or wedged chrony daemon surfaces as a distinct
// confidence value with a zero offset, so callers can tell "no information"
// apart from "verified zero offset".
package clocksync

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Confidence classifications for one telemetry sample.
const (
	ConfidenceGood    = "good"
	ConfidenceUnknown = "chrony-unknown"
	ConfidenceParse   = "chrony-parse"
	ConfidenceMissing = "chrony-missing"
	ConfidenceTimeout = "chrony-timeout"
	ConfidenceError   = "chrony-error"
)

// Sync roles within the rig.
const (
	RoleMaster = "master"
	RoleClient = "client"
)

const commandTimeout = time.Second

// Telemetry is one sample of clock-sync state. Samples are always replaced
// wholesale, never mutated in place.
type Telemetry struct {
	Role            string    `json:"role"`
	OffsetMS        float64   `json:"offset_ms"`
	Confidence      string    `json:"confidence"`
	MasterTimestamp time.Time `json:"master_timestamp"`
	LocalTimestamp  time.Time `json:"local_timestamp"`
	Raw             string    `json:"-"`
}

// CommandRunner executes a command with a bounded timeout and returns its
// combined stdout plus exit error. Swappable in tests.
type CommandRunner func(timeout time.Duration, name string, args ...string) (string, error)

func defaultRunner(timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), context.DeadlineExceeded
	}
	return string(out), err
}

// Poller samples chrony tracking state.
type Poller struct {
	Run CommandRunner
}

// NewPoller returns a Poller that shells out to chronyc.
func NewPoller() *Poller {
	return &Poller{Run: defaultRunner}
}

var offsetPattern = regexp.MustCompile(`Last offset\s*:\s*([+-]?\d+(?:\.\d+)?)`)

// Poll queries `chronyc tracking` and classifies the result. The returned
// telemetry always carries fresh timestamps even on failure.
func (p *Poller) Poll(role string) Telemetry {
	now := time.Now().UTC()
	sample := Telemetry{
		Role:            role,
		MasterTimestamp: now,
		LocalTimestamp:  now,
	}

	out, err := p.Run(commandTimeout, "chronyc", "tracking")
	sample.Raw = strings.TrimSpace(out)

	if err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			sample.Confidence = ConfidenceMissing
			sample.Raw = "chronyc not installed"
		case errors.Is(err, context.DeadlineExceeded):
			sample.Confidence = ConfidenceTimeout
			sample.Raw = "timeout"
		default:
			offset, confidence := parseOffset(out)
			sample.OffsetMS = offset
			sample.Confidence = confidence
			if confidence == ConfidenceGood {
				sample.Confidence = ConfidenceError
			}
		}
		return sample
	}

	sample.OffsetMS, sample.Confidence = parseOffset(out)
	return sample
}

// parseOffset extracts the "Last offset" value, reported by chrony in
// seconds, and converts it to milliseconds with the sign preserved.
func parseOffset(output string) (float64, string) {
	line := ""
	for _, l := range strings.Split(output, "\n") {
		if strings.Contains(l, "Last offset") {
			line = l
			break
		}
	}
	if line == "" {
		return 0, ConfidenceUnknown
	}
	m := offsetPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, ConfidenceParse
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, ConfidenceParse
	}
	// keep three decimal places, matching the manifest precision
	return math.Round(seconds*1000*1000) / 1000, ConfidenceGood
}
