package tunnel

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Process is a running relay client whose stdout and stderr are merged into
// a single stream.
type Process interface {
	// Output is the merged output stream. It reports EOF once the process
	// has exited and its output is drained.
	Output() io.ReadCloser
	Pid() int
	// Terminate asks the process to exit.
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
	// Done is closed after the process has exited.
	Done() <-chan struct{}
}

// Launcher starts relay client processes.
type Launcher interface {
	Launch(argv []string) (Process, error)
}

// ExecLauncher starts processes with os/exec.
type ExecLauncher struct {
	// Env is appended to the current environment when set.
	Env []string
}

// Launch starts argv with stdout and stderr sharing one pipe.
func (l ExecLauncher) Launch(argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("tunnel: empty command")
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("tunnel: pipe: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	p := &execProcess{
		cmd:  cmd,
		out:  pr,
		done: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	out  *os.File
	done chan struct{}
	err  error
}

func (p *execProcess) wait() {
	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *execProcess) Output() io.ReadCloser { return p.out }
func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Terminate() error {
	if p.exited() {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	if p.exited() {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
