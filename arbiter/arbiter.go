// Package arbiter owns the single receiver handle and hands out exclusive
// grants to either the scanner or a focus session, never both.
package arbiter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"
)

var (
	// ErrBusy is returned when another holder has the grant. It is not an
	// error condition for the caller, it signals "wait or abort".
	ErrBusy = errors.New("receiver busy")

	// ErrProtocolViolation is returned for re-entrant acquires and for
	// releases of grants that are not outstanding. It indicates a caller bug.
	ErrProtocolViolation = errors.New("arbiter protocol violation")
)

// Grant is the token representing exclusive ownership of the receiver.
// Releasing the grant is the only path back to availability.
type Grant struct {
	ID     string
	Holder string
}

// Arbiter hands out at most one Grant at any instant. It never queues
// requests; callers decide whether to retry on ErrBusy.
type Arbiter struct {
	mu      sync.Mutex
	current *Grant
}

func New() *Arbiter {
	return &Arbiter{}
}

// Acquire returns a Grant if the receiver is free. A second acquire by the
// current holder fails with ErrProtocolViolation, an acquire by anyone else
// while a grant is outstanding returns ErrBusy.
func (a *Arbiter) Acquire(holder string) (*Grant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		if a.current.Holder == holder {
			return nil, fmt.Errorf("%w: re-entrant acquire by %q", ErrProtocolViolation, holder)
		}
		return nil, ErrBusy
	}
	a.current = &Grant{
		ID:     uuid.NewString(),
		Holder: holder,
	}
	glog.V(2).Infof("receiver granted to %q (grant %s)", holder, a.current.ID)
	return a.current, nil
}

// Release hands the receiver back. Releasing a nil or stale grant is a
// protocol violation.
func (a *Arbiter) Release(g *Grant) error {
	if g == nil {
		return fmt.Errorf("%w: release of nil grant", ErrProtocolViolation)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.current.ID != g.ID {
		return fmt.Errorf("%w: release of grant %s which is not outstanding", ErrProtocolViolation, g.ID)
	}
	glog.V(2).Infof("receiver released by %q (grant %s)", g.Holder, g.ID)
	a.current = nil
	return nil
}

// Holder reports who currently holds the receiver, empty if free.
func (a *Arbiter) Holder() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return ""
	}
	return a.current.Holder
}
