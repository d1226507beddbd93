package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	require := require.New(t)
	c := New[string, int](time.Minute)

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	require.True(ok)
	require.Equal(1, v)

	_, ok = c.Get("missing")
	require.False(ok)
}

func TestExpiry(t *testing.T) {
	require := require.New(t)
	c := New[string, string](time.Minute)

	c.Set("short", "v", 20*time.Millisecond)
	_, ok := c.Get("short")
	require.True(ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("short")
	require.False(ok, "expired entry must read as absent")
}

func TestNoTTL(t *testing.T) {
	require := require.New(t)
	c := New[string, string](10 * time.Millisecond)

	c.Set("forever", "v", -1)
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("forever")
	require.True(ok)
}

func TestDeleteClearLen(t *testing.T) {
	require := require.New(t)
	c := New[string, int](time.Minute)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	require.Equal(2, c.Len())

	c.Delete("a")
	_, ok := c.Get("a")
	require.False(ok)

	c.Clear()
	require.Equal(0, c.Len())
}
