package pipeline

import (
	"io"
	"os"
	"path/filepath"
	"sync"
)

// SimRunner is the simulate-mode Runner: no external process is spawned, a
// placeholder output file is written, and the lifecycle otherwise behaves
// like the real pipeline so controller and manifest logic can be exercised
// on nodes without capture hardware.
type SimRunner struct{}

type simProcess struct {
	diagR *io.PipeReader
	diagW *io.PipeWriter

	mu   sync.Mutex
	done chan struct{}
}

func (SimRunner) Start(p Params) (Process, error) {
	if err := os.MkdirAll(filepath.Dir(p.OutputPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(p.OutputPath, []byte("simulated clip\n"), 0o644); err != nil {
		return nil, err
	}

	r, w := io.Pipe()
	return &simProcess{diagR: r, diagW: w, done: make(chan struct{})}, nil
}

func (s *simProcess) Diagnostics() io.ReadCloser {
	return s.diagR
}

// Terminate ends the simulated pipeline: the diagnostic stream closes and
// Wait unblocks with a clean exit.
func (s *simProcess) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	default:
	}
	_ = s.diagW.Close()
	close(s.done)
	return nil
}

func (s *simProcess) Kill() error {
	return s.Terminate()
}

func (s *simProcess) Wait() error {
	<-s.done
	return nil
}
