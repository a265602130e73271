package relcache

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"feed-api/internal/domain"
	"feed-api/internal/infra/metrics"
)

const (
	followingSQL = `SELECT followee_id FROM followings WHERE follower_id = $1`
	mutingSQL    = `SELECT mutee_id FROM mutings WHERE muter_id = $1`
)

// Cache — сквозной кэш подписок и мьютов: Redis-множества с TTL,
// при промахе читаем Postgres и заполняем ключ.
type Cache struct {
	redis *redis.Client
	pool  *pgxpool.Pool
	ttl   time.Duration
}

var _ domain.RelationshipCache = (*Cache)(nil)

// New создаёт кэш отношений.
func New(redisClient *redis.Client, pool *pgxpool.Pool, ttl time.Duration) *Cache {
	return &Cache{redis: redisClient, pool: pool, ttl: ttl}
}

// Following возвращает множество подписок зрителя.
func (c *Cache) Following(ctx context.Context, viewerID string) (map[string]struct{}, error) {
	return c.readThrough(ctx, "rel:following:"+viewerID, "following", followingSQL, viewerID)
}

// Muting возвращает множество замьюченных пользователей зрителя.
func (c *Cache) Muting(ctx context.Context, viewerID string) (map[string]struct{}, error) {
	return c.readThrough(ctx, "rel:muting:"+viewerID, "muting", mutingSQL, viewerID)
}

func (c *Cache) readThrough(ctx context.Context, key, kind, query, viewerID string) (map[string]struct{}, error) {
	start := time.Now()
	members, err := c.redis.SMembers(ctx, key).Result()
	metrics.ObserveNetworkRequest("redis", "rel_smembers", kind, start, err)
	if err != nil {
		return nil, fmt.Errorf("чтение кэша отношений %s: %w", kind, err)
	}
	if len(members) > 0 {
		return toSet(members), nil
	}

	start = time.Now()
	rows, err := c.pool.Query(ctx, query, viewerID)
	metrics.ObserveNetworkRequest("postgres", "rel_select", kind, start, err)
	if err != nil {
		return nil, fmt.Errorf("чтение отношений %s: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("скан отношений %s: %w", kind, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("чтение отношений %s: %w", kind, err)
	}

	// Пустые множества не кэшируем: в Redis нет пустого set.
	if len(ids) > 0 {
		start = time.Now()
		pipe := c.redis.Pipeline()
		pipe.SAdd(ctx, key, toAny(ids)...)
		pipe.Expire(ctx, key, c.ttl)
		// Заполнение кэша не влияет на корректность ответа.
		_, err := pipe.Exec(ctx)
		metrics.ObserveNetworkRequest("redis", "rel_populate", kind, start, err)
	}
	return toSet(ids), nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
