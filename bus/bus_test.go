package bus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderPerSubscriber(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(16)
	defer cancel()

	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: TypeScanState, Payload: i})
	}
	for i := 0; i < 10; i++ {
		e := <-ch
		assert.Equal(t, i, e.Payload, "events must arrive in emission order")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(2)
	defer cancel()

	// Nobody reads; publishes beyond the buffer are dropped, not queued.
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: TypeCandidates, Payload: i})
	}
	assert.Equal(t, 0, (<-ch).Payload)
	assert.Equal(t, 1, (<-ch).Payload)
	select {
	case e := <-ch:
		t.Fatalf("expected empty buffer, got %v", e)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(1)
	require.Equal(t, 1, b.Subscribers())

	cancel()
	cancel() // safe to call twice
	assert.Equal(t, 0, b.Subscribers())
	_, open := <-ch
	assert.False(t, open)

	// Publishing with no subscribers is a no-op.
	b.Publish(Event{Type: TypeFocusState})
}

func TestFanout(t *testing.T) {
	b := New()
	var chans []<-chan Event
	for i := 0; i < 3; i++ {
		ch, cancel := b.Subscribe(4)
		defer cancel()
		chans = append(chans, ch)
	}
	b.Publish(Event{Type: TypeScanState, Payload: "running"})
	for i, ch := range chans {
		e := <-ch
		assert.Equal(t, "running", e.Payload, fmt.Sprintf("subscriber %d", i))
	}
}
