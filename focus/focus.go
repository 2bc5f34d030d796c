// Package focus switches the receiver into a focused demodulation preview
// of a single candidate, pausing the scanner for the duration.
package focus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/sozanskiy/vtx-new/arbiter"
	"github.com/sozanskiy/vtx-new/bus"
)

// HolderName identifies focus sessions towards the arbiter.
const HolderName = "focus"

const defaultStartupTimeout = 10 * time.Second

var (
	// ErrSessionBusy is returned for a focus request while a session exists.
	ErrSessionBusy = errors.New("focus session busy")
	// ErrHardwareUnavailable is returned when the receiver cannot be
	// acquired or fails. Focus is user initiated, so this surfaces
	// immediately instead of retrying.
	ErrHardwareUnavailable = errors.New("hardware unavailable")
	// ErrPipelineFailure is reported when the external demodulation
	// pipeline dies.
	ErrPipelineFailure = errors.New("demod pipeline failure")
	// ErrCanceled is returned to a pending Focus call when Stop arrives
	// during startup.
	ErrCanceled = errors.New("focus canceled during startup")
)

type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// Pipeline is the opaque external demodulation chain. Start blocks until
// the pipeline is ready to produce output or fails. Done yields the exit
// error once the pipeline terminates on its own.
type Pipeline interface {
	Start(ctx context.Context, freqHz int64) error
	Stop() error
	Done() <-chan error
}

// Pauser is the scanner-side half of the mode-switch handshake.
type Pauser interface {
	Pause(ctx context.Context) error
	Resume()
}

// RecordingFlags mirror the operator toggles on a live session.
type RecordingFlags struct {
	IQ    bool `json:"iq"`
	Video bool `json:"video"`
}

// Session is the single live focus session, if any.
type Session struct {
	ID        string         `json:"id"`
	FreqHz    int64          `json:"freq_hz"`
	StartedAt time.Time      `json:"started_at"`
	Recording RecordingFlags `json:"recording"`
}

type Manager struct {
	arb      *arbiter.Arbiter
	scanner  Pauser
	bus      *bus.Bus
	pipeline func(freqHz int64) Pipeline
	timeout  time.Duration

	mu      sync.Mutex
	state   State
	session *Session
	grant   *arbiter.Grant
	active  Pipeline
	// stopReq records a Stop that raced a Focus still in starting.
	stopReq bool
	// epoch invalidates stale pipeline watchers across sessions.
	epoch uint64
}

// New creates an idle manager. newPipeline is invoked per focus request.
func New(arb *arbiter.Arbiter, scanner Pauser, b *bus.Bus, newPipeline func(freqHz int64) Pipeline) *Manager {
	return &Manager{
		arb:      arb,
		scanner:  scanner,
		bus:      b,
		pipeline: newPipeline,
		timeout:  defaultStartupTimeout,
		state:    StateIdle,
	}
}

// SetStartupTimeout bounds how long Focus waits for pipeline readiness.
func (m *Manager) SetStartupTimeout(d time.Duration) { m.timeout = d }

// State returns the manager state and a copy of the live session, if any.
func (m *Manager) State() (State, *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return m.state, nil
	}
	s := *m.session
	return m.state, &s
}

// Focus pauses the scanner, takes the receiver and launches the demod
// pipeline for freqHz. Valid only from idle.
func (m *Manager) Focus(ctx context.Context, freqHz int64) (*Session, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session in state %s", ErrSessionBusy, m.state)
	}
	m.state = StateStarting
	m.mu.Unlock()

	if err := m.scanner.Pause(ctx); err != nil {
		m.abortStart()
		return nil, fmt.Errorf("unable to pause scanner: %w", err)
	}

	grant, err := m.arb.Acquire(HolderName)
	if err != nil {
		m.abortStart()
		return nil, fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}

	p := m.pipeline(freqHz)
	startCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err = p.Start(startCtx, freqHz)
	cancel()
	if err != nil {
		p.Stop()
		if rerr := m.arb.Release(grant); rerr != nil {
			glog.Errorf("focus release after failed start: %s", rerr)
		}
		m.abortStart()
		return nil, fmt.Errorf("%w: %v", ErrPipelineFailure, err)
	}

	session := &Session{
		ID:        uuid.NewString(),
		FreqHz:    freqHz,
		StartedAt: time.Now(),
	}
	m.mu.Lock()
	if m.stopReq {
		// Stop arrived while the pipeline was warming up.
		m.stopReq = false
		m.state = StateStopping
		m.mu.Unlock()
		m.teardown(p, grant, nil)
		return nil, ErrCanceled
	}
	m.state = StateActive
	m.session = session
	m.grant = grant
	m.active = p
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	go m.watch(p, epoch)

	glog.Infof("focus session %s active on %d Hz", session.ID, freqHz)
	m.publish(true, freqHz)
	s := *session
	return &s, nil
}

// Stop tears the session down and hands the receiver back to the scanner.
// Valid from active or starting; stopping an idle manager is a no-op and
// emits nothing.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state == StateIdle || m.state == StateStopping {
		m.mu.Unlock()
		return nil
	}
	if m.state == StateStarting {
		// The pending Focus call owns the cleanup.
		m.stopReq = true
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	p, grant, session := m.active, m.grant, m.session
	m.active, m.grant, m.session = nil, nil, nil
	m.mu.Unlock()

	m.teardown(p, grant, session)
	return nil
}

// SetRecording toggles a recording flag on the live session.
func (m *Manager) SetRecording(kind string, enable bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive || m.session == nil {
		return nil, fmt.Errorf("%w: no active session", ErrSessionBusy)
	}
	switch kind {
	case "iq":
		m.session.Recording.IQ = enable
	case "video":
		m.session.Recording.Video = enable
	default:
		return nil, fmt.Errorf("unknown recording kind %q", kind)
	}
	s := *m.session
	return &s, nil
}

// watch forces the teardown path when the pipeline dies on its own.
func (m *Manager) watch(p Pipeline, epoch uint64) {
	err, ok := <-p.Done()
	if !ok {
		err = nil
	}

	m.mu.Lock()
	if m.epoch != epoch || m.state != StateActive {
		// Session already torn down or replaced.
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	grant, session := m.grant, m.session
	m.active, m.grant, m.session = nil, nil, nil
	m.mu.Unlock()

	glog.Errorf("%s on %d Hz: %v", ErrPipelineFailure, session.FreqHz, err)
	m.teardown(p, grant, session)
}

func (m *Manager) teardown(p Pipeline, grant *arbiter.Grant, session *Session) {
	if p != nil {
		if err := p.Stop(); err != nil {
			glog.Warningf("pipeline stop: %s", err)
		}
	}
	if grant != nil {
		if err := m.arb.Release(grant); err != nil {
			glog.Errorf("focus release: %s", err)
		}
	}

	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()

	if session != nil {
		glog.Infof("focus session %s stopped", session.ID)
	}
	m.publish(false, 0)
	m.scanner.Resume()
}

// abortStart unwinds a failed Focus before any session existed.
func (m *Manager) abortStart() {
	m.mu.Lock()
	m.state = StateIdle
	m.stopReq = false
	m.mu.Unlock()
	m.scanner.Resume()
}

func (m *Manager) publish(focused bool, freqHz int64) {
	if m.bus == nil {
		return
	}
	payload := map[string]any{"focused": focused}
	if focused {
		payload["freq_hz"] = freqHz
	}
	m.bus.Publish(bus.Event{Type: bus.TypeFocusState, Payload: payload})
}
