// Package pipeline supervises the external capture→encode process for one
// recording session. The process itself is abstracted behind a Runner so
// the same state machine drives both the real libcamera/ffmpeg pipeline and
// a simulated one for nodes without capture hardware.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Params describes one capture pipeline invocation.
type Params struct {
	OutputPath     string
	Resolution     string
	FPS            int
	Codec          string
	BitrateMbps    float64
	AudioEnabled   bool
	TargetDuration time.Duration // zero means unbounded
}

// Process is a running pipeline instance. Diagnostics is the stderr-style
// stream the supervisor watches for dropped frames and errors.
type Process interface {
	Diagnostics() io.ReadCloser
	Terminate() error
	Kill() error
	Wait() error
}

// Runner launches pipeline processes. Implementations must not block in
// Start beyond process spawn.
type Runner interface {
	Start(p Params) (Process, error)
}

// BuildCommand renders the two-stage capture pipeline: libcamera-vid
// streaming inline H.26x to stdout, piped into ffmpeg which muxes (and
// optionally pulls ALSA audio) into a faststart MP4.
func BuildCommand(p Params) string {
	width, height := splitResolution(p.Resolution)

	videoStage := fmt.Sprintf(
		"libcamera-vid --nopreview --width %s --height %s --framerate %d "+
			"--codec %s --bitrate %d --inline -t 0 -o -",
		width, height, p.FPS, p.Codec, int(p.BitrateMbps*1_000_000),
	)

	audioStage := "-an"
	if p.AudioEnabled {
		audioStage = "-f alsa -thread_queue_size 512 -i plughw:1,0 -map 0:v:0 -map 1:a:0 -c:a aac -b:a 128k"
	}

	ffmpegStage := fmt.Sprintf(
		"ffmpeg -y -loglevel info -stats -i pipe:0 %s -c:v copy -movflags +faststart %s",
		audioStage, p.OutputPath,
	)

	return videoStage + " | " + ffmpegStage
}

func splitResolution(res string) (string, string) {
	parts := strings.SplitN(res, "x", 2)
	if len(parts) != 2 {
		return "3840", "2160"
	}
	return parts[0], parts[1]
}

// ExecRunner spawns the real pipeline through a shell so the two stages can
// be connected with a pipe.
type ExecRunner struct{}

type execProcess struct {
	cmd    *exec.Cmd
	stderr io.ReadCloser
}

// Start launches the pipeline and wires up its diagnostic stream.
func (ExecRunner) Start(p Params) (Process, error) {
	if err := os.MkdirAll(filepath.Dir(p.OutputPath), 0o755); err != nil {
		return nil, err
	}

	cmd := exec.Command("bash", "-lc", BuildCommand(p))
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = nil

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stderr: stderr}, nil
}

func (e *execProcess) Diagnostics() io.ReadCloser {
	return e.stderr
}

func (e *execProcess) Terminate() error {
	return e.cmd.Process.Signal(syscall.SIGTERM)
}

func (e *execProcess) Kill() error {
	return e.cmd.Process.Kill()
}

func (e *execProcess) Wait() error {
	return e.cmd.Wait()
}

// ExitCode extracts the process exit code from a Wait error. Returns 0 for
// nil and -1 when the error carries no exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
