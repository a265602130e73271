package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"feed-api/internal/domain"
	"feed-api/internal/infra/metrics"
)

// Reader читает фанаут-списки таймлайнов из Redis.
// Каждый список — кольцевой буфер ограниченной глубины, новые записи в голове.
type Reader struct {
	client   *redis.Client
	maxDepth int
}

var _ domain.FanoutIndex = (*Reader)(nil)

// NewReader создаёт читатель фанаут-индекса.
func NewReader(client *redis.Client, maxDepth int) *Reader {
	return &Reader{client: client, maxDepth: maxDepth}
}

func listKey(k domain.TimelineKey) string {
	return fmt.Sprintf("timeline:%s:%s", k.UserID, k.Variant)
}

// GetMulti читает записи всех ключей, оставляет попавшие в диапазон курсоров
// и объединяет их без дублей. Порядок между ключами не гарантируется.
func (r *Reader) GetMulti(ctx context.Context, keys []domain.TimelineKey, sinceID, untilID string) ([]domain.CandidateSummary, error) {
	lists := make([][]string, 0, len(keys))
	for _, k := range keys {
		start := time.Now()
		raw, err := r.client.LRange(ctx, listKey(k), 0, int64(r.maxDepth-1)).Result()
		metrics.ObserveNetworkRequest("redis", "timeline_lrange", string(k.Variant), start, err)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("чтение фанаут-списка %s: %w", k.Variant, err)
		}
		lists = append(lists, raw)
	}
	return mergeEntries(lists, sinceID, untilID)
}

// mergeEntries декодирует записи, отбрасывает вышедшие за границы диапазона
// и дедуплицирует по id. Границы строго исключающие с обеих сторон.
func mergeEntries(lists [][]string, sinceID, untilID string) ([]domain.CandidateSummary, error) {
	seen := make(map[string]struct{})
	var out []domain.CandidateSummary
	for _, list := range lists {
		for _, item := range list {
			var c domain.CandidateSummary
			if err := json.Unmarshal([]byte(item), &c); err != nil {
				return nil, fmt.Errorf("декодирование кандидата: %w", err)
			}
			if !withinBounds(c.ID, sinceID, untilID) {
				continue
			}
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}

func withinBounds(id, sinceID, untilID string) bool {
	if sinceID != "" && id <= sinceID {
		return false
	}
	if untilID != "" && id >= untilID {
		return false
	}
	return true
}
