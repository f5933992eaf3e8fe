package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"appointdesk/internal/model"
	"appointdesk/internal/slots"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*SlotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSlotCache(client, ttl, zerolog.New(io.Discard)), mr
}

func TestSlotCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	_, gen, ok := c.Get(ctx, date)
	assert.False(t, ok)
	assert.Equal(t, int64(0), gen)

	res := slots.Result{Date: date, Slots: slots.ToSlots([]model.TimeOfDay{
		model.MustTimeOfDay("09:00"),
		model.MustTimeOfDay("14:30"),
	})}
	c.Set(ctx, gen, date, res)

	got, _, ok := c.Get(ctx, date)
	require.True(t, ok)
	assert.Equal(t, res.Slots, got.Slots)
	assert.Equal(t, "02:30 PM", got.Slots[1].Formatted)
	assert.True(t, mr.Exists("appointdesk:slots:0:2026-03-02"))

	mr.FastForward(2 * time.Minute)
	_, _, ok = c.Get(ctx, date)
	assert.False(t, ok, "entry should expire")
}

func TestSlotCacheKeepsReason(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)
	date := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	c.Set(ctx, 0, date, slots.Result{Date: date, Slots: []slots.Slot{}, Reason: slots.ReasonFullyBooked})
	got, _, ok := c.Get(ctx, date)
	require.True(t, ok)
	assert.True(t, got.Empty())
	assert.Equal(t, slots.ReasonFullyBooked, got.Reason)
}

func TestSlotCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	c.Set(ctx, 0, date, slots.Result{Slots: slots.ToSlots([]model.TimeOfDay{model.MustTimeOfDay("09:00")})})
	c.Invalidate(ctx)

	_, gen, ok := c.Get(ctx, date)
	assert.False(t, ok)
	assert.Equal(t, int64(1), gen)
	stored, err := mr.Get("appointdesk:slots:gen")
	require.NoError(t, err)
	assert.Equal(t, "1", stored)
}

func TestSlotCacheSetAfterInvalidateIsDiscarded(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)
	date := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	_, gen, ok := c.Get(ctx, date)
	require.False(t, ok)

	// A booking commits while the slot list is being computed.
	c.Invalidate(ctx)
	stale := slots.Result{Date: date, Slots: slots.ToSlots([]model.TimeOfDay{
		model.MustTimeOfDay("10:00"),
		model.MustTimeOfDay("10:30"),
	})}
	c.Set(ctx, gen, date, stale)

	_, _, ok = c.Get(ctx, date)
	assert.False(t, ok, "stale result must not be visible in the new generation")
	assert.False(t, mr.Exists("appointdesk:slots:1:2026-03-03"))
}

func TestSlotCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)
	mr.SetError("ERR server unavailable")

	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	_, gen, ok := c.Get(ctx, date)
	assert.False(t, ok)
	assert.Equal(t, NoGeneration, gen)
	c.Set(ctx, gen, date, slots.Result{})
	c.Invalidate(ctx)
}

func TestSlotCacheDisabled(t *testing.T) {
	c, _ := newTestCache(t, 0)
	c.Set(context.Background(), 0, time.Now(), slots.Result{})
	_, _, ok := c.Get(context.Background(), time.Now())
	assert.False(t, ok)

	var nilCache *SlotCache
	nilCache.Invalidate(context.Background())
}
