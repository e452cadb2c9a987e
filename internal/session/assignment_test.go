package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/store"
)

func TestResolveUnassigned(t *testing.T) {
	mem := store.NewMemory()
	_, _, err := mem.EnsureSession(context.Background(), "s-1", nil)
	require.NoError(t, err)

	c := NewCache(mem)
	a, err := c.Resolve(context.Background(), "s-1")
	require.NoError(t, err)
	assert.False(t, a.Assigned())
	assert.Empty(t, a.AgentID)
}

func TestResolveMissingSession(t *testing.T) {
	c := NewCache(store.NewMemory())

	a, err := c.Resolve(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, a.Assigned())
}

func TestResolveAssignedFromColumns(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_, _, err := mem.EnsureSession(ctx, "s-1", nil)
	require.NoError(t, err)
	require.NoError(t, mem.AssignAgent(ctx, "s-1", "a-1"))

	c := NewCache(mem)
	a, err := c.Resolve(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, a.Assigned())
	assert.Equal(t, "a-1", a.AgentID)
	assert.True(t, a.AIPaused)
}

func TestResolveAssignedFromUserMeta(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_, _, err := mem.EnsureSession(ctx, "s-1", map[string]interface{}{
		"assignedAgent": "a-2",
	})
	require.NoError(t, err)

	c := NewCache(mem)
	a, err := c.Resolve(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "a-2", a.AgentID)
	assert.True(t, a.AIPaused, "an agent id alone implies paused AI")
}

func TestResolveCachesPositiveOnly(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_, _, err := mem.EnsureSession(ctx, "s-1", nil)
	require.NoError(t, err)

	c := NewCache(mem)
	a, err := c.Resolve(ctx, "s-1")
	require.NoError(t, err)
	require.False(t, a.Assigned())

	// An unassigned result is not cached, so a later assignment is visible
	// without any explicit invalidation.
	require.NoError(t, mem.AssignAgent(ctx, "s-1", "a-1"))
	a, err = c.Resolve(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "a-1", a.AgentID)
}

func TestPutAndClear(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_, _, err := mem.EnsureSession(ctx, "s-1", nil)
	require.NoError(t, err)

	c := NewCache(mem)
	c.Put("s-1", Assignment{AgentID: "a-1", AIPaused: true})

	// The cached entry is served without consulting the store.
	a, err := c.Resolve(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "a-1", a.AgentID)

	c.Clear("s-1")
	a, err = c.Resolve(ctx, "s-1")
	require.NoError(t, err)
	assert.False(t, a.Assigned())
}

func TestPutUnassignedEvicts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_, _, err := mem.EnsureSession(ctx, "s-1", nil)
	require.NoError(t, err)

	c := NewCache(mem)
	c.Put("s-1", Assignment{AgentID: "a-1", AIPaused: true})
	c.Put("s-1", Assignment{})

	a, err := c.Resolve(ctx, "s-1")
	require.NoError(t, err)
	assert.False(t, a.Assigned())
}

func TestAssignedImpliesPaused(t *testing.T) {
	assert.True(t, Assignment{AgentID: "a-1"}.Assigned())
	assert.True(t, Assignment{AIPaused: true}.Assigned())
	assert.False(t, Assignment{}.Assigned())
}
