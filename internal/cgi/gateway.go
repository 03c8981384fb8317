package cgi

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// Gateway starts scripts.
type Gateway struct{}

// Process is a running script. Its merged standard output and standard
// error are read through Stdout. Finish must be called on every path.
type Process struct {
	cmd     *exec.Cmd
	stdout  *os.File
	started time.Time
	Command string

	once     sync.Once
	exitCode int
	err      error
}

// Start runs the script with exactly the given environment. The command is
// the symlink-resolved absolute script path and the working directory is
// the directory containing it.
func (Gateway) Start(script string, env []Var) (*Process, error) {
	command, err := filepath.EvalSymlinks(script)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve script %s: %w", script, err)
	}
	command, err = filepath.Abs(command)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve script %s: %w", script, err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}

	cmd := exec.Command(command) // #nosec G204 - script path is resolved under the CGI directory
	cmd.Dir = filepath.Dir(command)
	cmd.Env = Strings(env)
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("failed to start %s: %w", command, err)
	}
	// The child holds its own copy of the write end.
	_ = w.Close()

	return &Process{cmd: cmd, stdout: r, started: time.Now(), Command: command}, nil
}

// Stdout returns the script's combined output.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Finish closes the output pipe and waits for the script to exit. A script
// still writing when the pipe closes receives SIGPIPE. The exit code is -1
// when the process did not exit normally. Finish is idempotent.
func (p *Process) Finish() (exitCode int, err error) {
	p.once.Do(func() {
		_ = p.stdout.Close()
		err := p.cmd.Wait()
		p.exitCode = p.cmd.ProcessState.ExitCode()

		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.err = fmt.Errorf("failed waiting for %s: %w", p.Command, err)
		}
	})
	return p.exitCode, p.err
}

// Elapsed is the time since the script was started.
func (p *Process) Elapsed() time.Duration { return time.Since(p.started) }
