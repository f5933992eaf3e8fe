// Package cache keeps computed open slot lists in Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"appointdesk/internal/model"
	"appointdesk/internal/slots"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix     = "appointdesk:slots"
	generationKey = keyPrefix + ":gen"
)

// SlotCache stores open slots per date. Entries are namespaced by a
// generation counter so that Invalidate drops every date at once.
// Failures are logged and treated as misses.
type SlotCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

type entry struct {
	Times  []string `json:"times"`
	Reason string   `json:"reason,omitempty"`
}

// NewSlotCache creates a cache. A non-positive ttl disables it.
func NewSlotCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *SlotCache {
	return &SlotCache{
		redis:  client,
		ttl:    ttl,
		logger: logger.With().Str("component", "slot_cache").Logger(),
	}
}

func (c *SlotCache) enabled() bool {
	return c != nil && c.redis != nil && c.ttl > 0
}

// NoGeneration is returned by Get when the generation could not be read.
// Set ignores it.
const NoGeneration int64 = -1

func (c *SlotCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.redis.Get(ctx, generationKey).Int64()
	if err != nil && err != redis.Nil {
		return NoGeneration, err
	}
	return gen, nil
}

func entryKey(gen int64, date time.Time) string {
	return fmt.Sprintf("%s:%d:%s", keyPrefix, gen, date.Format(model.DateLayout))
}

// Get returns the cached result for date together with the generation it
// was looked up in. On a miss the caller computes the result and hands that
// generation back to Set, so a result computed across an Invalidate is
// written into a generation nobody reads any more.
func (c *SlotCache) Get(ctx context.Context, date time.Time) (slots.Result, int64, bool) {
	if !c.enabled() {
		return slots.Result{}, NoGeneration, false
	}
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read cache generation")
		return slots.Result{}, NoGeneration, false
	}
	key := entryKey(gen, date)
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("read slot cache")
		}
		return slots.Result{}, gen, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("decode slot cache")
		return slots.Result{}, gen, false
	}
	times := make([]model.TimeOfDay, 0, len(e.Times))
	for _, s := range e.Times {
		t, err := model.ParseTimeOfDay(s)
		if err != nil {
			return slots.Result{}, gen, false
		}
		times = append(times, t)
	}
	return slots.Result{Date: date, Slots: slots.ToSlots(times), Reason: e.Reason}, gen, true
}

// Set stores res for date under gen, the generation returned by Get.
func (c *SlotCache) Set(ctx context.Context, gen int64, date time.Time, res slots.Result) {
	if !c.enabled() || gen < 0 {
		return
	}
	key := entryKey(gen, date)
	e := entry{Times: make([]string, len(res.Slots)), Reason: res.Reason}
	for i, s := range res.Slots {
		e.Times[i] = s.Value
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("write slot cache")
	}
}

// Invalidate bumps the generation, orphaning every cached date. Orphans
// expire through their TTL.
func (c *SlotCache) Invalidate(ctx context.Context) {
	if !c.enabled() {
		return
	}
	if err := c.redis.Incr(ctx, generationKey).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("invalidate slot cache")
	}
}
