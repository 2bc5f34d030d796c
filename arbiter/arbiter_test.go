package arbiter

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleGrant(t *testing.T) {
	a := New()

	g, err := a.Acquire("scanner")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "scanner", a.Holder())

	// Anyone else gets busy, not an error.
	_, err = a.Acquire("focus")
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, a.Release(g))
	assert.Equal(t, "", a.Holder())

	// Free again, focus can take it.
	g2, err := a.Acquire("focus")
	require.NoError(t, err)
	require.NoError(t, a.Release(g2))
}

func TestReentrantAcquire(t *testing.T) {
	a := New()

	g, err := a.Acquire("scanner")
	require.NoError(t, err)

	_, err = a.Acquire("scanner")
	assert.ErrorIs(t, err, ErrProtocolViolation)

	require.NoError(t, a.Release(g))
}

func TestStaleRelease(t *testing.T) {
	a := New()

	g, err := a.Acquire("scanner")
	require.NoError(t, err)
	require.NoError(t, a.Release(g))

	// Double release of the same token.
	assert.ErrorIs(t, a.Release(g), ErrProtocolViolation)
	assert.ErrorIs(t, a.Release(nil), ErrProtocolViolation)

	// A foreign token never releases someone else's grant.
	g2, err := a.Acquire("focus")
	require.NoError(t, err)
	assert.ErrorIs(t, a.Release(&Grant{ID: "bogus", Holder: "focus"}), ErrProtocolViolation)
	assert.Equal(t, "focus", a.Holder())
	require.NoError(t, a.Release(g2))
}

func TestConcurrentAcquire(t *testing.T) {
	a := New()

	const n = 32
	var wg sync.WaitGroup
	granted := make(chan *Grant, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			g, err := a.Acquire(string(rune('a' + id)))
			if err != nil {
				if !errors.Is(err, ErrBusy) {
					t.Errorf("unexpected acquire error: %v", err)
				}
				return
			}
			granted <- g
		}(i)
	}
	wg.Wait()
	close(granted)

	// At most one of the racing acquires may have succeeded.
	var grants []*Grant
	for g := range granted {
		grants = append(grants, g)
	}
	require.Len(t, grants, 1)
	require.NoError(t, a.Release(grants[0]))
}
