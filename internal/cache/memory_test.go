package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSetExpire(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.Get(ctx, "token")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "token", "abc", time.Minute))
	val, err := c.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "abc", val)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "token")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCache_SetNXSingleWinner(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.SetNX(ctx, "poll:ws_CO_1", "1", time.Minute)
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)

	require.NoError(t, c.Delete(ctx, "poll:ws_CO_1"))
	ok, err := c.SetNX(ctx, "poll:ws_CO_1", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
