package domain

import "context"

// FanoutIndex читает предрасчитанные фанаут-списки недавних постов.
// Списки разных ключей не упорядочены между собой: сортировка на вызывающем.
type FanoutIndex interface {
	GetMulti(ctx context.Context, keys []TimelineKey, sinceID, untilID string) ([]CandidateSummary, error)
}

// RelationshipCache отдаёт подписки и мьюты зрителя. Оба чтения независимы
// и могут выполняться параллельно.
type RelationshipCache interface {
	Following(ctx context.Context, viewerID string) (map[string]struct{}, error)
	Muting(ctx context.Context, viewerID string) (map[string]struct{}, error)
}

// TimelineQuery — параметры прямого запроса таймлайна к хранилищу.
type TimelineQuery struct {
	SubjectID string
	Viewer    ViewerContext
	Options   TimelineOptions
	SinceID   string
	UntilID   string
	Limit     int
}

// HydrateQuery — параметры гидрации отфильтрованных кандидатов.
type HydrateQuery struct {
	IDs       []string
	SubjectID string
	Viewer    ViewerContext
	Options   TimelineOptions
	Limit     int
}

// PostRepo — авторитетное хранилище постов.
type PostRepo interface {
	QueryTimeline(ctx context.Context, q TimelineQuery) ([]Post, error)
	HydrateTimeline(ctx context.Context, q HydrateQuery) ([]Post, error)
	UserExists(ctx context.Context, userID string) (bool, error)
}
