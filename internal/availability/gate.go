package availability

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Gate answers whether a host can take a booking right now and serializes
// per-host occupancy so a single-slot charger is never double-booked.
type Gate interface {
	IsBookable(ctx context.Context, hostID int64) (bool, error)
	MarkOccupied(ctx context.Context, hostID int64) (bool, error)
	MarkFree(ctx context.Context, hostID int64) error
}

// HostChecker is the verification-side answer, backed by the hosts table.
type HostChecker interface {
	IsBookable(ctx context.Context, hostID int64) (bool, error)
}

// RedisGate coordinates occupancy through redis. Occupancy uses SET NX so
// exactly one accept wins per host; the verification answer is cached with a
// short TTL to keep the hot booking path off the hosts table. The occupancy
// claim carries its own generous TTL so a crash between the claim and the
// session insert cannot strand the host; the partial unique index on ongoing
// sessions keeps an expired claim from double-booking a live session.
type RedisGate struct {
	client       *redis.Client
	hosts        HostChecker
	bookableTTL  time.Duration
	occupancyTTL time.Duration
	logger       *zap.Logger
}

// NewRedisGate builds the gate.
func NewRedisGate(client *redis.Client, hosts HostChecker, bookableTTL, occupancyTTL time.Duration, logger *zap.Logger) *RedisGate {
	if bookableTTL <= 0 {
		bookableTTL = 30 * time.Second
	}
	if occupancyTTL <= 0 {
		occupancyTTL = 4 * time.Hour
	}
	return &RedisGate{
		client:       client,
		hosts:        hosts,
		bookableTTL:  bookableTTL,
		occupancyTTL: occupancyTTL,
		logger:       logger,
	}
}

func occupiedKey(hostID int64) string {
	return fmt.Sprintf("hosts:occupied:%d", hostID)
}

func bookableKey(hostID int64) string {
	return fmt.Sprintf("hosts:bookable:%d", hostID)
}

// IsBookable reports whether the host is approved, active and not occupied.
func (g *RedisGate) IsBookable(ctx context.Context, hostID int64) (bool, error) {
	occupied, err := g.client.Exists(ctx, occupiedKey(hostID)).Result()
	if err != nil {
		return false, err
	}
	if occupied > 0 {
		return false, nil
	}

	cached, err := g.client.Get(ctx, bookableKey(hostID)).Result()
	if err == nil {
		parsed, parseErr := strconv.ParseBool(cached)
		if parseErr == nil {
			return parsed, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		g.logger.Warn("bookable cache read failed", zap.Int64("host_id", hostID), zap.Error(err))
	}

	bookable, err := g.hosts.IsBookable(ctx, hostID)
	if err != nil {
		return false, err
	}
	if cacheErr := g.client.Set(ctx, bookableKey(hostID), strconv.FormatBool(bookable), g.bookableTTL).Err(); cacheErr != nil {
		g.logger.Warn("bookable cache write failed", zap.Int64("host_id", hostID), zap.Error(cacheErr))
	}
	return bookable, nil
}

// MarkOccupied claims the host's single slot. Returns false when another
// session already holds it. The claim expires on its own after occupancyTTL.
func (g *RedisGate) MarkOccupied(ctx context.Context, hostID int64) (bool, error) {
	return g.client.SetNX(ctx, occupiedKey(hostID), "1", g.occupancyTTL).Result()
}

// MarkFree releases the slot.
func (g *RedisGate) MarkFree(ctx context.Context, hostID int64) error {
	return g.client.Del(ctx, occupiedKey(hostID)).Err()
}
