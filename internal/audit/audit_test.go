package audit

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veil/internal/platform/localstore"
)

func TestPublisherFillsIdentityAndTimestamp(t *testing.T) {
	store := NewInMemoryStore()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub := NewPublisher(store, WithNow(func() time.Time { return fixed }))

	err := pub.Emit(context.Background(), Entry{
		Category: CategoryBlock,
		Action:   ActionEventBlocked,
		Detail:   map[string]string{"reason": "phi_pattern"},
	})
	require.NoError(t, err)

	entries, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEqual(t, uuid.Nil, entries[0].ID)
	assert.Equal(t, fixed, entries[0].Timestamp)
	assert.Equal(t, CategoryBlock, entries[0].Category)
}

func TestInMemoryStoreNewestFirst(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	for i, action := range []string{"first", "second", "third"} {
		require.NoError(t, store.Append(ctx, Entry{
			ID:        uuid.New(),
			Timestamp: time.Unix(int64(i), 0),
			Category:  CategoryAllocation,
			Action:    action,
		}))
	}

	entries, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Action)
	assert.Equal(t, "second", entries[1].Action)
}

func TestWorkerPersistsFromInbox(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store)
	inbox := make(chan Entry, 4)
	worker := NewWorker(pub, inbox, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	inbox <- Entry{Category: CategoryExpiry, Action: ActionBucketExpired}
	inbox <- Entry{Category: CategoryViolation, Action: ActionLatencyExceeded}

	assert.Eventually(t, func() bool {
		entries, _ := store.ListRecent(context.Background(), 10)
		return len(entries) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestLocalStoreRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	db, err := localstore.Open(localstore.InMemoryConfig(key))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewLocalStore(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, Entry{
			ID:        uuid.New(),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Category:  CategoryAllocation,
			Action:    ActionEpsilonAllocated,
			Detail:    map[string]string{"epsilon": "0.02"},
		}))
	}

	entries, err := store.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Newest first.
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))
	assert.Equal(t, "0.02", entries[0].Detail["epsilon"])
}
