package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/chatcall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LastWriterWins(t *testing.T) {
	reg := NewRegistry()
	first := newFakeConn("alice")
	second := newFakeConn("alice")

	assert.True(t, reg.Register(first))
	assert.False(t, reg.Register(second), "replacement keeps membership")

	got, ok := reg.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Zero(t, first.closeCount(), "replaced connection is not closed by the registry")
}

func TestRegistry_StaleUnregisterIgnored(t *testing.T) {
	reg := NewRegistry()
	first := newFakeConn("alice")
	second := newFakeConn("alice")
	reg.Register(first)
	reg.Register(second)

	assert.False(t, reg.Unregister(first))
	got, ok := reg.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, reg.Unregister(second))
	_, ok = reg.Lookup("alice")
	assert.False(t, ok)
	assert.False(t, reg.Unregister(second))
}

func TestRegistry_SnapshotSortedWithRevision(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newFakeConn("carol"))
	reg.Register(newFakeConn("alice"))
	bob := newFakeConn("bob")
	reg.Register(bob)

	snap := reg.Snapshot()
	assert.Equal(t, []domain.Identity{"alice", "bob", "carol"}, snap.Users)
	assert.Equal(t, uint64(3), snap.Revision)

	reg.Unregister(bob)
	snap = reg.Snapshot()
	assert.Equal(t, []domain.Identity{"alice", "carol"}, snap.Users)
	assert.Equal(t, uint64(4), snap.Revision)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(domain.Identity(fmt.Sprintf("user-%d", i)))
			reg.Register(c)
			snap, conns := reg.Connections()
			assert.Len(t, conns, len(snap.Users))
			if i%2 == 0 {
				reg.Unregister(c)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, reg.Len())
	assert.Len(t, reg.Snapshot().Users, 25)
}
