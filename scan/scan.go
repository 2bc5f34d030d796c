// Package scan drives the receiver through the channel plan in a repeating
// sweep and fans the per-channel measurements out to observers.
package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/sozanskiy/vtx-new/arbiter"
	"github.com/sozanskiy/vtx-new/bus"
	"github.com/sozanskiy/vtx-new/detect"
	"github.com/sozanskiy/vtx-new/plan"
	"github.com/sozanskiy/vtx-new/sdr"
)

// HolderName identifies the scanner towards the arbiter.
const HolderName = "scanner"

// defaultRetryInterval is how often a paused-out scanner polls for the
// receiver to come back.
const defaultRetryInterval = 100 * time.Millisecond

var ErrAlreadyRunning = errors.New("scan already running")

type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Observer receives one measurement per channel per pass, in the order the
// scanner produced them.
type Observer interface {
	Observe(freqHz int64, powerDB, snrDB float64, now time.Time)
}

type Scanner struct {
	sampler   sdr.Sampler
	arb       *arbiter.Arbiter
	bus       *bus.Bus
	observers []Observer
	retry     time.Duration

	plan atomic.Pointer[plan.ChannelPlan]

	mu        sync.Mutex
	state     State
	stopCh    chan struct{}
	doneCh    chan struct{}
	passStart time.Time

	// Pause handshake with the focus session manager: a request carries an
	// ack channel the sweep loop closes once it is parked without a grant.
	pauseReq chan chan struct{}
	resumeCh chan struct{}
	paused   bool
}

// New creates a stopped scanner. Observers are invoked serially from the
// sweep goroutine. b may be nil.
func New(sampler sdr.Sampler, arb *arbiter.Arbiter, b *bus.Bus, observers ...Observer) *Scanner {
	return &Scanner{
		sampler:   sampler,
		arb:       arb,
		bus:       b,
		observers: observers,
		retry:     defaultRetryInterval,
		state:     StateStopped,
	}
}

// SetRetryInterval overrides the busy-poll interval, mainly for tests.
func (s *Scanner) SetRetryInterval(d time.Duration) { s.retry = d }

// Start begins the repeating sweep. Valid only when stopped.
func (s *Scanner) Start(p *plan.ChannelPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return ErrAlreadyRunning
	}
	s.plan.Store(p)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.pauseReq = make(chan chan struct{}, 1)
	s.resumeCh = make(chan struct{}, 1)
	s.paused = false
	s.state = StateRunning
	s.passStart = time.Now()
	go s.sweep(s.stopCh, s.doneCh)

	glog.Infof("scan started: %d channels, dwell %s", len(p.Channels()), p.Dwell())
	s.publishState(StateRunning)
	return nil
}

// Stop halts the sweep after the in-flight channel capture completes.
// Idempotent; stopping a stopped scanner emits nothing.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	stop, done := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stop)
	<-done

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	glog.Info("scan stopped")
	s.publishState(StateStopped)
}

// State reports the scanner state and how long the current pass has been
// going.
func (s *Scanner) State() (State, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return s.state, 0
	}
	return s.state, time.Since(s.passStart)
}

// SetPlan swaps the channel plan. The running sweep finishes its current
// pass on the old plan and picks the new one up at the next pass boundary.
func (s *Scanner) SetPlan(p *plan.ChannelPlan) {
	s.plan.Store(p)
}

// Pause asks the sweep loop to park without a grant and waits for the
// confirmation. The scanner keeps its state machine in running but stops
// acquiring the receiver until Resume. Pausing a stopped scanner succeeds
// immediately.
func (s *Scanner) Pause(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning || s.paused {
		s.paused = s.state == StateRunning
		s.mu.Unlock()
		return nil
	}
	s.paused = true
	req, stop := s.pauseReq, s.stopCh
	s.mu.Unlock()

	ack := make(chan struct{})
	select {
	case req <- ack:
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume lets a paused sweep reacquire the receiver.
func (s *Scanner) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	if s.state != StateRunning {
		return
	}
	select {
	case s.resumeCh <- struct{}{}:
	default:
	}
}

func (s *Scanner) publishState(st State) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Type: bus.TypeScanState, Payload: map[string]any{"state": string(st)}})
}

// sweep is the long-lived pass loop. It owns all hardware interaction on
// the scanner side; stop and pause are only honored at capture boundaries
// so the receiver is never abandoned mid-tune.
func (s *Scanner) sweep(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ctx := context.Background()

	for {
		p := s.plan.Load()
		channels := p.Channels()
		cfg := detect.Config{
			SampleRateHz: p.SampleRateHz,
			ChannelBWHz:  p.ChannelBWHz,
			DCGuardHz:    p.DCGuardHz,
		}
		numSamples := sdr.NumSamples(p.SampleRateHz, p.Dwell())

		s.mu.Lock()
		s.passStart = time.Now()
		s.mu.Unlock()

		for _, freq := range channels {
			if !s.checkpoint(stop) {
				return
			}

			grant, err := s.arb.Acquire(HolderName)
			if errors.Is(err, arbiter.ErrBusy) {
				// A focus session holds the receiver. Abort this pass step
				// and poll until the grant comes back or we are stopped.
				select {
				case <-time.After(s.retry):
				case <-stop:
					return
				}
				continue
			}
			if err != nil {
				glog.Errorf("scanner acquire failed: %s", err)
				return
			}

			iq, err := s.sampler.Capture(ctx, freq, p.SampleRateHz, numSamples)
			capturedAt := time.Now()
			if rerr := s.arb.Release(grant); rerr != nil {
				glog.Errorf("scanner release failed: %s", rerr)
			}
			if err != nil {
				glog.Warningf("capture failed on %d Hz: %s", freq, err)
				continue
			}

			power, snr := detect.Metrics(iq, cfg)
			for _, o := range s.observers {
				o.Observe(freq, power, snr, capturedAt)
			}
		}

		if budget := time.Duration(p.SweepBudgetMs) * time.Millisecond; budget > 0 {
			s.mu.Lock()
			elapsed := time.Since(s.passStart)
			s.mu.Unlock()
			if elapsed > budget {
				// Degraded performance, not a failure; detection continues.
				glog.Warningf("sweep pass took %s, budget is %s", elapsed, budget)
			}
		}
	}
}

// checkpoint handles stop and the pause handshake at a safe boundary.
// Returns false when the sweep must exit.
func (s *Scanner) checkpoint(stop <-chan struct{}) bool {
	for {
		select {
		case <-stop:
			return false
		case ack := <-s.pauseReq:
			// Confirm the park only while holding no grant, then block
			// until resumed or stopped.
			close(ack)
			select {
			case <-s.resumeCh:
				continue
			case <-stop:
				return false
			}
		default:
			return true
		}
	}
}
