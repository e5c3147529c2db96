package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/censord/internal/core/domain"
)

func TestWorkerRegistry_AddIsIdempotent(t *testing.T) {
	r := NewWorkerRegistry()
	now := time.Now()

	assert.True(t, r.Add("http://a", now))
	assert.False(t, r.Add("http://a", now.Add(time.Second)))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, now, r.Snapshot()[0].RegisteredAt)
}

func TestWorkerRegistry_SizeTracksDistinctAddresses(t *testing.T) {
	r := NewWorkerRegistry()
	addrs := []domain.WorkerAddress{"http://a", "http://b", "http://c", "http://a", "http://b"}
	for _, a := range addrs {
		r.Add(a, time.Now())
	}
	assert.Equal(t, 3, r.Len())

	assert.True(t, r.Remove("http://b"))
	assert.False(t, r.Remove("http://b"))
	assert.False(t, r.Remove("http://zzz"))
	assert.Equal(t, 2, r.Len())
	assert.False(t, r.Contains("http://b"))
}

func TestWorkerRegistry_NextRoundRobin(t *testing.T) {
	r := NewWorkerRegistry()
	_, ok := r.Next()
	require.False(t, ok)

	r.Add("http://a", time.Now())
	r.Add("http://b", time.Now())

	var got []domain.WorkerAddress
	for i := 0; i < 5; i++ {
		h, ok := r.Next()
		require.True(t, ok)
		got = append(got, h.Address)
	}
	assert.Equal(t, []domain.WorkerAddress{"http://a", "http://b", "http://a", "http://b", "http://a"}, got)
}

func TestWorkerRegistry_NextConcurrentSlotsAreUnique(t *testing.T) {
	r := NewWorkerRegistry()
	workers := []domain.WorkerAddress{"http://a", "http://b", "http://c", "http://d"}
	for _, w := range workers {
		r.Add(w, time.Now())
	}

	const rounds = 250
	counts := make(map[domain.WorkerAddress]int)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < rounds*len(workers); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, _ := r.Next()
			mu.Lock()
			counts[h.Address]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, w := range workers {
		assert.Equal(t, rounds, counts[w], "worker %s", w)
	}
}

func TestWorkerRegistry_SnapshotIsACopy(t *testing.T) {
	r := NewWorkerRegistry()
	r.Add("http://a", time.Now())

	snap := r.Snapshot()
	snap[0].Address = "http://mutated"

	assert.True(t, r.Contains("http://a"))
	assert.Equal(t, domain.WorkerAddress("http://a"), r.Snapshot()[0].Address)
}
