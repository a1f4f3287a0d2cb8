package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 1)
	go func() {
		_ = bus.Subscribe(ctx, func(_ context.Context, e Event) error {
			received <- e
			return nil
		})
	}()

	// give the subscriber goroutine a moment to register before publishing.
	time.Sleep(10 * time.Millisecond)

	want := Event{Type: ProjectAddEntities, ProjectID: "p1", AffectedIDs: []string{"alice"}}
	require.NoError(t, bus.Publish(ctx, want))

	select {
	case got := <-received:
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.ProjectID, got.ProjectID)
		assert.Equal(t, want.AffectedIDs, got.AffectedIDs)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEvent_MarshalRoundTrip(t *testing.T) {
	e := Event{Type: ProjectRemovePolicies, ProjectID: "p1", AffectedIDs: []string{"a", "b"}, OccurredAt: time.Now().UTC()}
	b, err := e.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, e.Type, got.Type)
	assert.Equal(t, e.ProjectID, got.ProjectID)
	assert.Equal(t, e.AffectedIDs, got.AffectedIDs)
}
