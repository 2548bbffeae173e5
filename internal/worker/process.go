package worker

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Command describes one worker invocation. Path and Args come from the pure
// config mapping in internal/search; Stderr, when set, receives the worker's
// diagnostic stream (typically a rotated log file).
type Command struct {
	Path   string
	Args   []string
	Dir    string
	Env    []string
	Stderr io.WriteCloser
}

// Process wraps one live worker subprocess: its OS pid, captured stdout and
// start time. It is owned exclusively by the supervisor that started it and
// is never shared; exactly one goroutine may call Wait.
type Process struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    io.WriteCloser
	startedAt time.Time
	stopReq   bool
	waitDone  chan struct{} // closed when Wait returns
	waited    bool
	exitErr   error
	stoppedAt time.Time
}

// Start spawns the worker with its stdout captured and the child placed in
// its own process group so that stop signals reach the whole tree.
func Start(c Command) (*Process, error) {
	if c.Path == "" {
		return nil, errors.New("empty worker command")
	}
	// #nosec G204 -- argv is built by search.Config.Args, not raw user input
	cmd := exec.Command(c.Path, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	}
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		if c.Stderr != nil {
			_ = c.Stderr.Close()
		}
		return nil, err
	}
	return &Process{
		cmd:       cmd,
		stdout:    stdout,
		stderr:    c.Stderr,
		startedAt: time.Now(),
		waitDone:  make(chan struct{}),
	}, nil
}

func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// Stdout returns the captured output stream. The reader owns it until EOF;
// the pipe is closed by os/exec when the process exits.
func (p *Process) Stdout() io.ReadCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout
}

// RequestStop marks the process as intentionally terminated so the exit is
// classified as stopped rather than crashed.
func (p *Process) RequestStop() {
	p.mu.Lock()
	p.stopReq = true
	p.mu.Unlock()
}

func (p *Process) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopReq
}

// Wait blocks until the subprocess exits and records the exit state. It must
// be called exactly once, from the supervising goroutine; everyone else
// observes the exit via WaitDone.
func (p *Process) Wait() error {
	p.mu.Lock()
	if p.waited {
		p.mu.Unlock()
		<-p.waitDone
		return p.ExitErr()
	}
	p.waited = true
	cmd := p.cmd
	p.mu.Unlock()

	err := cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.stoppedAt = time.Now()
	if p.stderr != nil {
		_ = p.stderr.Close()
		p.stderr = nil
	}
	close(p.waitDone)
	p.mu.Unlock()
	return err
}

// WaitDone is closed once the exit has been reaped by Wait.
func (p *Process) WaitDone() <-chan struct{} { return p.waitDone }

func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *Process) StoppedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stoppedAt
}

// Alive reports whether the process has not yet been reaped.
func (p *Process) Alive() bool {
	select {
	case <-p.waitDone:
		return false
	default:
		return true
	}
}

// Terminate sends a graceful termination signal to the process group.
func (p *Process) Terminate() error {
	pid := p.PID()
	if pid == 0 {
		return nil
	}
	return terminateGroup(pid)
}

// Kill forcibly terminates the process group.
func (p *Process) Kill() error {
	pid := p.PID()
	if pid == 0 {
		return nil
	}
	return killGroup(pid)
}

// Stop performs the graceful-then-forced shutdown sequence: SIGTERM, wait up
// to the grace period, then SIGKILL. It is idempotent; stopping an already
// dead process sends nothing. Stop returns once the monitor has reaped the
// exit, or after a short bounded margin following the kill.
func (p *Process) Stop(grace time.Duration) error {
	p.RequestStop()
	if !p.Alive() {
		return nil
	}
	if err := p.Terminate(); err != nil {
		return err
	}
	select {
	case <-p.waitDone:
		return nil
	case <-time.After(grace):
	}
	if err := p.Kill(); err != nil {
		return err
	}
	select {
	case <-p.waitDone:
	case <-time.After(2 * time.Second):
		// monitor has not reaped yet; best-effort
	}
	return nil
}
