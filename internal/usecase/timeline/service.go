package timeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"feed-api/internal/domain"
	"feed-api/internal/infra/metrics"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Flags — фичефлаги маршрутизации, передаются явно.
type Flags struct {
	FanoutEnabled     bool
	DBFallbackEnabled bool
}

// Request — параметры запроса таймлайна пользователя.
// Даты в unix-миллисекундах, ноль означает отсутствие.
type Request struct {
	SubjectID string
	ViewerID  string
	Options   domain.TimelineOptions
	Limit     int
	SinceID   string
	UntilID   string
	SinceDate int64
	UntilDate int64
}

// Service — контроллер выбора источника: фанаут-кэш или прямой запрос.
type Service struct {
	fanout    domain.FanoutIndex
	relations domain.RelationshipCache
	posts     domain.PostRepo
	flags     Flags
	log       zerolog.Logger
}

// NewService создаёт сервис таймлайнов.
func NewService(fanout domain.FanoutIndex, relations domain.RelationshipCache, posts domain.PostRepo, flags Flags, logger zerolog.Logger) *Service {
	return &Service{fanout: fanout, relations: relations, posts: posts, flags: flags, log: logger}
}

// UserTimeline возвращает страницу таймлайна субъекта глазами зрителя:
// убывание по курсору, не длиннее limit, без дублей.
func (s *Service) UserTimeline(ctx context.Context, req Request) ([]domain.Post, error) {
	start := time.Now()
	defer metrics.ObserveTimelineBuild(start)

	limit := clampLimit(req.Limit)
	sinceID, untilID, err := resolveBounds(req)
	if err != nil {
		return nil, err
	}
	viewer, err := s.loadViewer(ctx, req.ViewerID, req.SubjectID)
	if err != nil {
		return nil, err
	}

	// Открытое сканирование назад (нижняя граница без верхней) кэш
	// ограниченной глубины обслужить не может.
	if !s.flags.FanoutEnabled || (sinceID != "" && untilID == "") {
		metrics.IncTimelineSource(metrics.SourceDirect)
		return s.direct(ctx, req.SubjectID, viewer, req.Options, sinceID, untilID, limit)
	}

	page, hit, err := s.fromFanout(ctx, req.SubjectID, viewer, req.Options, sinceID, untilID, limit)
	if err != nil {
		return nil, err
	}
	if hit {
		metrics.IncTimelineSource(metrics.SourceFanout)
		return page, nil
	}
	if !s.flags.DBFallbackEnabled {
		metrics.IncTimelineSource(metrics.SourceFanout)
		metrics.TimelineEmptyPages.Inc()
		return nil, nil
	}
	metrics.IncTimelineSource(metrics.SourceFanoutFallback)
	s.log.Debug().Str("subject", req.SubjectID).Msg("фанаут пуст, идём в БД")
	return s.direct(ctx, req.SubjectID, viewer, req.Options, sinceID, untilID, limit)
}

// fromFanout проходит кэш-путь. Пустая гидрация — промах кэша, решение
// о том, что значит пустота, принимает вызывающий.
func (s *Service) fromFanout(ctx context.Context, subjectID string, viewer domain.ViewerContext, opts domain.TimelineOptions, sinceID, untilID string, limit int) ([]domain.Post, bool, error) {
	keys := timelineKeys(subjectID, opts)
	candidates, err := s.fanout.GetMulti(ctx, keys, sinceID, untilID)
	if err != nil {
		return nil, false, fmt.Errorf("чтение фанаут-индекса: %w", err)
	}

	admitted := candidates[:0]
	for _, c := range candidates {
		if Admit(c, viewer, opts) {
			admitted = append(admitted, c)
		}
	}
	if len(admitted) == 0 {
		return nil, false, nil
	}

	// Списки разных ключей между собой не упорядочены.
	sort.Slice(admitted, func(i, j int) bool { return admitted[i].ID > admitted[j].ID })

	// Запас на кандидатов, которых хранилище отклонит: пост могли удалить,
	// флаги могли измениться после фанаута.
	if len(admitted) > 2*limit {
		admitted = admitted[:2*limit]
	}

	ids := make([]string, len(admitted))
	for i, c := range admitted {
		ids[i] = c.ID
	}
	page, err := s.posts.HydrateTimeline(ctx, domain.HydrateQuery{
		IDs:       ids,
		SubjectID: subjectID,
		Viewer:    viewer,
		Options:   opts,
		Limit:     limit,
	})
	if err != nil {
		return nil, false, fmt.Errorf("гидрация таймлайна: %w", err)
	}
	if len(page) == 0 {
		return nil, false, nil
	}
	return page, true, nil
}

func (s *Service) direct(ctx context.Context, subjectID string, viewer domain.ViewerContext, opts domain.TimelineOptions, sinceID, untilID string, limit int) ([]domain.Post, error) {
	page, err := s.posts.QueryTimeline(ctx, domain.TimelineQuery{
		SubjectID: subjectID,
		Viewer:    viewer,
		Options:   opts,
		SinceID:   sinceID,
		UntilID:   untilID,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("прямой запрос таймлайна: %w", err)
	}
	if len(page) == 0 {
		metrics.TimelineEmptyPages.Inc()
	}
	return page, nil
}

// loadViewer собирает контекст зрителя; подписки и мьюты читаются параллельно.
func (s *Service) loadViewer(ctx context.Context, viewerID, subjectID string) (domain.ViewerContext, error) {
	viewer := domain.ViewerContext{
		ViewerID: viewerID,
		IsSelf:   viewerID != "" && viewerID == subjectID,
	}
	if viewerID == "" {
		return viewer, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		following, err := s.relations.Following(gctx, viewerID)
		if err != nil {
			return fmt.Errorf("подписки зрителя: %w", err)
		}
		viewer.Following = following
		return nil
	})
	g.Go(func() error {
		muted, err := s.relations.Muting(gctx, viewerID)
		if err != nil {
			return fmt.Errorf("мьюты зрителя: %w", err)
		}
		viewer.Muted = muted
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.ViewerContext{}, err
	}
	return viewer, nil
}

// resolveBounds переводит даты в курсоры и валидирует явные курсоры
// до любого похода в хранилище.
func resolveBounds(req Request) (string, string, error) {
	sinceID := req.SinceID
	untilID := req.UntilID
	var err error
	if sinceID != "" {
		if sinceID, err = domain.ParseCursor(sinceID); err != nil {
			return "", "", err
		}
	} else if req.SinceDate > 0 {
		sinceID = domain.CursorFromTime(time.UnixMilli(req.SinceDate))
	}
	if untilID != "" {
		if untilID, err = domain.ParseCursor(untilID); err != nil {
			return "", "", err
		}
	} else if req.UntilDate > 0 {
		untilID = domain.CursorFromTime(time.UnixMilli(req.UntilDate))
	}
	return sinceID, untilID, nil
}

// timelineKeys выбирает фанаут-списки под флаги запроса.
func timelineKeys(subjectID string, opts domain.TimelineOptions) []domain.TimelineKey {
	base, replies, channel := domain.VariantBase, domain.VariantWithReplies, domain.VariantWithChannel
	if opts.WithFiles {
		base, replies, channel = domain.VariantFiles, domain.VariantFilesReplies, domain.VariantFilesChannel
	}
	variants := []domain.TimelineVariant{base}
	if opts.WithReplies {
		variants = append(variants, replies)
	}
	if opts.WithChannelNotes {
		variants = append(variants, channel)
	}
	keys := make([]domain.TimelineKey, len(variants))
	for i, v := range variants {
		keys[i] = domain.TimelineKey{UserID: subjectID, Variant: v}
	}
	return keys
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
