package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHandleInfo tests the worker snapshot description
func TestHandleInfo(t *testing.T) {
	h := newPipedHandle(t, HandleOptions{}, nil)

	info := h.Info()
	assert.Equal(t, h.ID(), info.ID)
	assert.NotEmpty(t, info.Remote)
	assert.Equal(t, int64(8192), info.MemoryKiB)
	assert.Equal(t, int64(65536), info.StorageKB)
	assert.Equal(t, 4, info.CPUs)
	assert.True(t, info.Alive)
}

// TestRegistryDescribe tests that the fleet description covers every
// admitted worker
func TestRegistryDescribe(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Describe())

	a := newPipedHandle(t, HandleOptions{}, nil)
	b := newPipedHandle(t, HandleOptions{}, nil)
	r.Admit(a)
	r.Admit(b)

	infos := r.Describe()
	require.Len(t, infos, 2)
	ids := []string{infos[0].ID, infos[1].ID}
	assert.ElementsMatch(t, []string{a.ID(), b.ID()}, ids)
}

// TestRegistryRoute tests key-to-worker routing over the fleet
func TestRegistryRoute(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Route("any"), "empty fleet routes nowhere")

	a := &Handle{id: "a"}
	b := &Handle{id: "b"}
	c := &Handle{id: "c"}
	r.Admit(a)
	r.Admit(b)
	r.Admit(c)

	// Deterministic: the same key always lands on the same worker.
	first := r.Route("orders-17")
	require.NotNil(t, first)
	for i := 0; i < 10; i++ {
		assert.Same(t, first, r.Route("orders-17"))
	}

	// Different keys spread over the fleet rather than piling onto one
	// worker.
	owners := map[*Handle]bool{}
	keys := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g7", "h8", "i9", "j10"}
	for _, k := range keys {
		owners[r.Route(k)] = true
	}
	assert.Greater(t, len(owners), 1)

	// Eviction shrinks the ring but never routes to the gone worker.
	r.Evict(first)
	for _, k := range keys {
		assert.NotSame(t, first, r.Route(k))
	}
}
