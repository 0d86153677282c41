package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

func TestLockManager_LeaseLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	lm := NewLockManager()
	lm.clock = func() time.Time { return now }

	lease, err := lm.Acquire(ctx, "property:p1", time.Second)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "property:p1", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	now = now.Add(900 * time.Millisecond)
	require.NoError(t, lease.Refresh(ctx, time.Second))
	now = now.Add(900 * time.Millisecond)
	_, err = lm.Acquire(ctx, "property:p1", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	// Expired leases cannot be refreshed or release a successor.
	now = now.Add(2 * time.Second)
	assert.ErrorIs(t, lease.Refresh(ctx, time.Second), domain.ErrLockLost)
	next, err := lm.Acquire(ctx, "property:p1", time.Second)
	require.NoError(t, err)
	lease.Release()
	_, err = lm.Acquire(ctx, "property:p1", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	next.Release()
	next.Release()
	again, err := lm.Acquire(ctx, "property:p1", time.Second)
	require.NoError(t, err)
	again.Release()
}
