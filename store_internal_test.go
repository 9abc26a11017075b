package session

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreDeliversSnapshotsInCommitOrder(t *testing.T) {
	store := NewStore(WithStoreLogger(NoopLogger()))

	var mu sync.Mutex
	var seen []int
	store.Subscribe(func(st State) {
		n, err := strconv.Atoi(st.LastError.Message)
		assert.NoError(t, err)
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})

	const writers, perWriter = 8, 50

	// commits is only touched inside mutate, under the store lock.
	commits := 0
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				err := store.mutate(func(st *State) error {
					commits++
					st.LastError = &Error{Code: CodeUnknown, Message: strconv.Itoa(commits)}
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, writers*perWriter)
	for i, n := range seen {
		require.Equal(t, i+1, n, "snapshot %d delivered out of order", i)
	}
}

func TestStoreSubscriberMayMutate(t *testing.T) {
	store := NewStore(WithStoreLogger(NoopLogger()))

	var seen []bool
	store.Subscribe(func(st State) {
		seen = append(seen, st.IsLoading)
		if st.IsLoading {
			store.SetLoading(false)
		}
	})

	store.SetLoading(true)

	assert.Equal(t, []bool{true, false}, seen)
	assert.False(t, store.Snapshot().IsLoading)
}
