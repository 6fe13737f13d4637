package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// SubmitDeduper tracks recently seen payment intents so a double-clicked
// pay button cannot fire two STK pushes.
type SubmitDeduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

type redisSubmitDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisSubmitDeduper) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+":"+key, "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	// false => already exists => duplicate
	return !ok, nil
}

type memorySubmitDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
}

func newMemorySubmitDeduper(ttl time.Duration) *memorySubmitDeduper {
	now := time.Now()
	return &memorySubmitDeduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: now.Add(ttl),
	}
}

func (d *memorySubmitDeduper) Seen(_ context.Context, key string) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[key]; ok && exp.After(now) {
		return true, nil
	}

	d.seen[key] = now.Add(d.ttl)
	if now.After(d.nextGC) {
		for k, exp := range d.seen {
			if exp.Before(now) {
				delete(d.seen, k)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}

	return false, nil
}

// NewSubmitDeduper builds a Redis deduper and falls back to in-memory on
// failure.
func NewSubmitDeduper(addr, pass string, db int, ttl time.Duration) (SubmitDeduper, error) {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if addr == "" {
		return newMemorySubmitDeduper(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return newMemorySubmitDeduper(ttl), err
	}

	return &redisSubmitDeduper{
		client: client,
		prefix: "pay:intent",
		ttl:    ttl,
	}, nil
}

// PaymentSubmitDedup rejects a repeat of an identical initiate intent
// while the first one is still fresh.
func PaymentSubmitDedup(deduper SubmitDeduper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if deduper == nil {
				return next(c)
			}

			req := c.Request()
			if req.Body == nil {
				return next(c)
			}

			rawBody, err := io.ReadAll(req.Body)
			if err != nil {
				return next(c)
			}
			req.Body = io.NopCloser(bytes.NewBuffer(rawBody))
			if len(rawBody) == 0 {
				return next(c)
			}

			var payload struct {
				SubscriptionID string `json:"subscriptionId"`
				Amount         int    `json:"amount"`
				PhoneNumber    string `json:"phoneNumber"`
			}
			if err := json.Unmarshal(rawBody, &payload); err != nil || payload.SubscriptionID == "" {
				return next(c)
			}

			// Keyed on the intent, not the session: identical submissions
			// from two tabs raise one STK push on the subscriber's phone,
			// the same duplicate as a double click in one tab.
			key := fmt.Sprintf("%s:%d:%s", payload.SubscriptionID, payload.Amount, payload.PhoneNumber)
			isDuplicate, err := deduper.Seen(req.Context(), key)
			if err != nil {
				return next(c)
			}
			if isDuplicate {
				return c.JSON(http.StatusConflict, map[string]interface{}{
					"error": "A payment for this request is already in progress. Please wait.",
				})
			}

			return next(c)
		}
	}
}
