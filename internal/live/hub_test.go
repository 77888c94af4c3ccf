package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pickup-dispatch/internal/models"
)

func TestPublishFansOutInOrder(t *testing.T) {
	h := NewHub(8, nil)
	a, b := h.Subscribe(), h.Subscribe()

	for i := int64(1); i <= 3; i++ {
		h.Publish(models.OrderAssigned(i, 7))
	}

	for _, s := range []*Subscriber{a, b} {
		for i := int64(1); i <= 3; i++ {
			ev := <-s.Events()
			assert.Equal(t, i, ev.OrderID)
		}
	}
}

func TestSlowSubscriberIsDroppedWithoutBlocking(t *testing.T) {
	h := NewHub(1, nil)
	slow := h.Subscribe()
	fast := h.SubscribeBuffered(16)

	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 5; i++ {
			h.Publish(models.OrderAssigned(i, 1))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	<-slow.Done()
	assert.Equal(t, 1, h.Len())
	assert.Len(t, fast.Events(), 5)
}

func TestDeliverDropsOnSendFailure(t *testing.T) {
	h := NewHub(4, nil)
	s := h.Subscribe()
	h.Publish(models.OrderAssigned(1, 1))

	sendErr := errors.New("broken pipe")
	err := h.Deliver(context.Background(), s, func(models.Event) error { return sendErr })

	require.ErrorIs(t, err, sendErr)
	assert.Equal(t, 0, h.Len())

	// other observers keep receiving
	other := h.Subscribe()
	h.Publish(models.OrderAssigned(2, 1))
	assert.Equal(t, int64(2), (<-other.Events()).OrderID)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	h := NewHub(4, nil)
	s := h.Subscribe()
	h.Close()

	_, ok := <-s.Events()
	assert.False(t, ok)

	late := h.Subscribe()
	_, ok = <-late.Events()
	assert.False(t, ok)
	assert.True(t, h.Closed())
}

func TestRunSinkReceivesEventsAndSurvivesWriteErrors(t *testing.T) {
	h := NewHub(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []int64
	sink := SinkFunc{SinkName: "test", Fn: func(_ context.Context, ev models.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.OrderID)
		if ev.OrderID == 1 {
			return errors.New("transient")
		}
		return nil
	}}

	finished := make(chan error, 1)
	go func() { finished <- RunSink(ctx, h, sink, 16, nil) }()
	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 5*time.Millisecond)

	h.Publish(models.OrderAssigned(1, 1))
	h.Publish(models.OrderAssigned(2, 1))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	h.Close()
	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sink did not stop after hub close")
	}
}
