package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "alma/pkg/platform/audit"
	"alma/pkg/platform/audit/store/memory"
)

func TestPublisher_FlushPersists(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, 8, nil)

	pub.Emit(context.Background(), audit.SecurityEvent{Entity: "intervention:x", Action: audit.EventAccessDenied})
	assert.Equal(t, 1, pub.Pending())

	pub.Flush(context.Background())
	assert.Equal(t, 0, pub.Pending())

	events, err := store.ListByEntity(context.Background(), "intervention:x")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
	assert.Equal(t, string(audit.SeverityInfo), events[0].Decision)
}

func TestPublisher_DropsOldestWhenFull(t *testing.T) {
	pub := New(memory.NewInMemoryStore(), 2, nil)
	for _, e := range []string{"a", "b", "c"} {
		pub.Emit(context.Background(), audit.SecurityEvent{Entity: e, Action: audit.EventAccessDenied})
	}
	assert.Equal(t, 2, pub.Pending())
	assert.Equal(t, int64(1), pub.Dropped())

	batch := pub.buf.popBatch(10)
	require.Len(t, batch, 2)
	assert.Equal(t, "b", batch[0].Entity)
	assert.Equal(t, "c", batch[1].Entity)
}

func TestPublisher_RunDrainsOnCancel(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, 8, nil)
	pub.flushInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pub.Run(ctx)
		close(done)
	}()
	pub.Emit(context.Background(), audit.SecurityEvent{Entity: "e", Action: audit.EventAccessDenied})
	cancel()
	<-done

	events, err := store.ListByEntity(context.Background(), "e")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPublisher_NilIsNoop(t *testing.T) {
	var pub *Publisher
	assert.NotPanics(t, func() {
		pub.Emit(context.Background(), audit.SecurityEvent{})
	})
}
