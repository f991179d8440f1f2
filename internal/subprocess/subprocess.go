// Package subprocess shells out to external tools, typically an
// out-of-process kernel compiler during benchmarking. The contract is
// small: set a working directory and environment, run the command
// synchronously or with piped output/input, and get back the exit status.
package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// Process is a single command invocation being configured. The setters
// chain; the Execute/Read/Write methods run the command and wait for exit.
type Process struct {
	command string
	args    []string
	dir     string
	env     map[string]string
}

func New(command string, args ...string) *Process {
	return &Process{command: command, args: args}
}

// WorkingDirectory sets the directory the command runs in.
func (p *Process) WorkingDirectory(dir string) *Process {
	p.dir = dir
	return p
}

// EnvironmentVariables adds variables on top of the inherited environment.
func (p *Process) EnvironmentVariables(vars map[string]string) *Process {
	if p.env == nil {
		p.env = make(map[string]string, len(vars))
	}
	for k, v := range vars {
		p.env[k] = v
	}
	return p
}

// Execute runs the command with output forwarded to this process's stdout
// and stderr, then waits for exit. The returned int is the exit status.
func (p *Process) Execute(ctx context.Context) (int, error) {
	cmd := p.build(ctx)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return wait(cmd.Run())
}

// Read runs the command and captures its stdout into out.
func (p *Process) Read(ctx context.Context, out *bytes.Buffer) (int, error) {
	cmd := p.build(ctx)
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	return wait(cmd.Run())
}

// Write runs the command with input piped to its stdin.
func (p *Process) Write(ctx context.Context, input []byte) (int, error) {
	cmd := p.build(ctx)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return wait(cmd.Run())
}

func (p *Process) build(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Dir = p.dir
	if len(p.env) > 0 {
		env := os.Environ()
		keys := make([]string, 0, len(p.env))
		for k := range p.env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+p.env[k])
		}
		cmd.Env = env
	}
	return cmd
}

// wait maps a Run error to an exit status. A non-zero exit is reported
// through the status, not as an error; only failures to run the command at
// all (missing binary, bad directory, cancelled context) return an error.
func wait(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("subprocess: %w", err)
}
