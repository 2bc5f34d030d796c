package focus

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
)

// ExecPipeline runs the external analog video demodulator as a child
// process. The engine only starts and stops it; frames travel over whatever
// transport the demodulator exposes.
type ExecPipeline struct {
	// Command is the demodulator argv. The placeholder %f is replaced with
	// the target frequency in Hz.
	Command []string
	// WarmUp is how long after process start the pipeline is considered
	// ready. Analog demods produce output almost immediately; the delay
	// mainly covers device tuning.
	WarmUp time.Duration

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan error
}

func (p *ExecPipeline) Start(ctx context.Context, freqHz int64) error {
	if len(p.Command) == 0 {
		return fmt.Errorf("no demod command configured")
	}
	args := make([]string, len(p.Command))
	for i, a := range p.Command {
		args[i] = strings.ReplaceAll(a, "%f", strconv.FormatInt(freqHz, 10))
	}

	cmd := exec.Command(args[0], args[1:]...)
	glog.V(1).Infof("starting demod pipeline: %q", cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to start demod: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
		close(done)
	}()

	// Readiness: the process must survive the warm-up window.
	warm := p.WarmUp
	if warm == 0 {
		warm = 250 * time.Millisecond
	}
	select {
	case err := <-done:
		return fmt.Errorf("demod exited during startup: %w", err)
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		return ctx.Err()
	case <-time.After(warm):
	}

	p.mu.Lock()
	p.cmd = cmd
	p.done = done
	p.mu.Unlock()
	return nil
}

func (p *ExecPipeline) Stop() error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.cmd, p.done = nil, nil
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}

	// Terminate politely, then force after a grace period.
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		cmd.Process.Kill()
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		cmd.Process.Kill()
		<-done
	}
	return nil
}

func (p *ExecPipeline) Done() <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		ch := make(chan error)
		return ch
	}
	return p.done
}

// NullPipeline is a demod stand-in for development without hardware: it is
// ready immediately and never fails.
type NullPipeline struct {
	mu   sync.Mutex
	done chan error
}

func (p *NullPipeline) Start(ctx context.Context, freqHz int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = make(chan error, 1)
	glog.V(1).Infof("null demod pipeline on %d Hz", freqHz)
	return nil
}

func (p *NullPipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	return nil
}

func (p *NullPipeline) Done() <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return make(chan error)
	}
	return p.done
}
