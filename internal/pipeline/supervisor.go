package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/traloxolcus/soccer-rig/internal/manifest"
	"github.com/traloxolcus/soccer-rig/pkg/logging"
)

// State is the supervisor lifecycle position.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
	StateFinalized State = "finalized"
	StateFaulted   State = "faulted"
)

var (
	ErrAlreadyRunning = errors.New("pipeline already running")
	ErrNotRunning     = errors.New("pipeline not running")
)

// graceTimeout bounds the wait between SIGTERM and SIGKILL.
const graceTimeout = 10 * time.Second

var dropPattern = regexp.MustCompile(`drop=\s*(\d+)`)

// Metrics are the counters extracted from the diagnostic stream.
type Metrics struct {
	DroppedFrames int    `json:"dropped_frames"`
	EncodeErrors  int    `json:"encode_errors"`
	LastError     string `json:"last_error,omitempty"`
}

// Result is the outcome of a finalized pipeline run.
type Result struct {
	DurationSeconds int
	EndedAt         time.Time
	Metrics         Metrics
	Checksum        manifest.Checksum
}

// Supervisor drives one pipeline process through its lifecycle and watches
// its diagnostic stream. One Supervisor instance serves one session.
type Supervisor struct {
	runner Runner
	logger logging.Logger
	grace  time.Duration

	mu         sync.Mutex
	state      State
	proc       Process
	params     Params
	metrics    Metrics
	startedAt  time.Time
	readerDone chan struct{}
	autoStop   *time.Timer
}

// NewSupervisor builds an idle Supervisor on top of the given Runner.
func NewSupervisor(runner Runner, logger logging.Logger) *Supervisor {
	return &Supervisor{
		runner: runner,
		logger: logger,
		grace:  graceTimeout,
		state:  StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MetricsSnapshot returns a copy of the diagnostic counters.
func (s *Supervisor) MetricsSnapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Elapsed reports wall-clock time since start, zero when not running.
func (s *Supervisor) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Start launches the pipeline. When params carry a target duration, a timer
// arms onAutoStop after that duration; the callback is responsible for
// invoking Stop through the session controller so explicit and automatic
// stops serialize on the same path.
func (s *Supervisor) Start(p Params, onAutoStop func()) error {
	s.mu.Lock()
	if s.state == StateStarting || s.state == StateRunning || s.state == StateStopping {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateStarting
	s.params = p
	s.metrics = Metrics{}
	s.mu.Unlock()

	proc, err := s.runner.Start(p)
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return err
	}

	readerDone := make(chan struct{})
	s.mu.Lock()
	s.proc = proc
	s.startedAt = time.Now()
	s.state = StateRunning
	s.readerDone = readerDone
	if p.TargetDuration > 0 && onAutoStop != nil {
		s.autoStop = time.AfterFunc(p.TargetDuration, onAutoStop)
	}
	s.mu.Unlock()

	go s.watchDiagnostics(proc, readerDone)

	s.logger.WithFields(logging.Fields{
		"output":  p.OutputPath,
		"codec":   p.Codec,
		"bitrate": p.BitrateMbps,
		"target":  p.TargetDuration.String(),
	}).Info("Pipeline started")
	return nil
}

// watchDiagnostics follows the pipeline's diagnostic stream until it closes.
// Stream EOF while the state is still Running means the process died on its
// own, which faults the session until Stop finalizes it.
func (s *Supervisor) watchDiagnostics(proc Process, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(proc.Diagnostics())
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.recordDiagnosticLine(line)
	}

	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateFaulted
		if s.metrics.LastError == "" {
			s.metrics.LastError = "diagnostic stream closed unexpectedly"
		}
		s.logger.WithField("last_error", s.metrics.LastError).Error("Pipeline faulted")
	}
	s.mu.Unlock()
}

func (s *Supervisor) recordDiagnosticLine(line string) {
	lowered := strings.ToLower(line)

	s.mu.Lock()
	defer s.mu.Unlock()

	if m := dropPattern.FindStringSubmatch(lowered); m != nil {
		if dropped, err := strconv.Atoi(m[1]); err == nil && dropped > s.metrics.DroppedFrames {
			s.metrics.DroppedFrames = dropped
		}
	}
	if strings.Contains(lowered, "error") {
		s.metrics.EncodeErrors++
		s.metrics.LastError = line
	}
}

// Stop terminates the pipeline, escalating from SIGTERM to SIGKILL after
// the grace period, joins the diagnostic reader, and computes the final
// duration and content checksum. Safe to call exactly once per run; a
// second call observes ErrNotRunning.
func (s *Supervisor) Stop() (*Result, error) {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StateFaulted {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	s.state = StateStopping
	proc := s.proc
	readerDone := s.readerDone
	startedAt := s.startedAt
	params := s.params
	if s.autoStop != nil {
		s.autoStop.Stop()
		s.autoStop = nil
	}
	s.mu.Unlock()

	waitErr := s.terminate(proc)

	// join the diagnostic reader; it unblocks once the stream closes
	select {
	case <-readerDone:
	case <-time.After(2 * time.Second):
		s.logger.Warn("Diagnostic reader did not drain in time")
	}

	ended := time.Now()
	duration := int(ended.Sub(startedAt).Seconds())

	checksum, err := manifest.FileChecksum(params.OutputPath)
	if err != nil {
		s.logger.WithError(err).Warn("Checksum computation failed")
	}

	s.mu.Lock()
	if code := ExitCode(waitErr); code != 0 {
		s.metrics.EncodeErrors++
		if s.metrics.LastError == "" {
			s.metrics.LastError = fmt.Sprintf("pipeline exited with %d", code)
		}
	}
	result := &Result{
		DurationSeconds: duration,
		EndedAt:         ended,
		Metrics:         s.metrics,
		Checksum:        checksum,
	}
	s.state = StateFinalized
	s.proc = nil
	s.startedAt = time.Time{}
	s.readerDone = nil
	s.mu.Unlock()

	s.logger.WithFields(logging.Fields{
		"output":   params.OutputPath,
		"duration": duration,
		"dropped":  result.Metrics.DroppedFrames,
		"errors":   result.Metrics.EncodeErrors,
	}).Info("Pipeline finalized")
	return result, nil
}

// terminate sends a graceful signal and escalates to a kill when the
// process outlives the grace period.
func (s *Supervisor) terminate(proc Process) error {
	if err := proc.Terminate(); err != nil {
		s.logger.WithError(err).Warn("Graceful termination signal failed")
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- proc.Wait() }()

	select {
	case err := <-waitCh:
		return err
	case <-time.After(s.grace):
		s.logger.Warn("Pipeline ignored termination signal, killing")
		if err := proc.Kill(); err != nil {
			s.logger.WithError(err).Error("Kill failed")
		}
		return <-waitCh
	}
}
