// Package launcher implements ports.Launcher by spawning LSP server
// processes with os/exec, grounded on the teacher's internal/agent
// adapters (exec.CommandContext plus a stdout pipe drained on a
// goroutine, internal/agent/claude.go's Run).
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/loomcode/loom/internal/ports"
	"github.com/loomcode/loom/internal/wire"
)

// Process launches LSP servers as child processes and speaks to them over
// stdin/stdout, per spec §1's "stdio" transport assumption.
type Process struct{}

// New returns a Process launcher.
func New() Process { return Process{} }

// Handle is a running LSP server process plus its stdio pipes, handed to
// the LSP routing layer (internal/lsproute) so it can frame JSON-RPC over
// them.
type Handle struct {
	cmd    *exec.Cmd
	Stdin  *os.File
	Stdout *os.File

	mu     sync.Mutex
	waited bool
}

// Wait blocks until the process exits. Only the first call actually waits
// on the process; Launch makes that call itself, so any later call returns
// nil at once, whether or not the process has exited yet. ctx cancellation
// does not kill the process; callers needing that must go through
// Terminate.
func (h *Handle) Wait(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		h.mu.Lock()
		if h.waited {
			h.mu.Unlock()
			done <- nil
			return
		}
		h.waited = true
		h.mu.Unlock()
		done <- h.cmd.Wait()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Launch starts cfg.Command with cfg.Args, cfg.Env and cfg.Cwd, returning
// a ServerHandle and a status channel that reports StatusRunning once the
// process starts and StatusFailed/StatusStopped when it exits.
func (Process) Launch(ctx context.Context, cfg wire.LaunchConfig) (ports.ServerHandle, <-chan ports.StatusEvent, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Cwd
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("launcher: stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("launcher: stdout pipe: %w", err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("launcher: start %s: %w", cfg.Command, err)
	}
	stdinR.Close()
	stdoutW.Close()

	h := &Handle{cmd: cmd, Stdin: stdinW, Stdout: stdoutR}
	events := make(chan ports.StatusEvent, 1)
	events <- ports.StatusEvent{Status: wire.StatusRunning}

	go func() {
		err := h.Wait(context.Background())
		status := wire.StatusStopped
		if err != nil {
			status = wire.StatusFailed
		}
		events <- ports.StatusEvent{Status: status, Err: err}
		close(events)
	}()

	return h, events, nil
}

// Terminate signals the process to exit.
func (Process) Terminate(handle ports.ServerHandle) error {
	h, ok := handle.(*Handle)
	if !ok {
		return fmt.Errorf("launcher: Terminate called with foreign handle type %T", handle)
	}
	h.Stdin.Close()
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
