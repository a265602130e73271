package repo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"feed-api/internal/domain"
	"feed-api/internal/infra/metrics"
)

var postColumns = []string{
	"posts.id",
	"posts.user_id",
	"posts.reply_id",
	"posts.reply_user_id",
	"posts.renote_id",
	"posts.renote_user_id",
	"posts.text",
	"posts.file_ids",
	"posts.has_poll",
	"posts.visibility",
	"posts.visible_user_ids",
	"posts.channel_id",
	"posts.is_sensitive",
	"posts.created_at",
}

// Postgres реализует domain.PostRepo на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.PostRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// buildTimelineSQL собирает прямой запрос таймлайна из дерева предикатов.
func buildTimelineSQL(q domain.TimelineQuery) (string, []any, error) {
	b := psql.Select(postColumns...).
		From("posts").
		LeftJoin("channels ON channels.id = posts.channel_id").
		Where(sq.Eq{"posts.user_id": q.SubjectID}).
		Where(channelPredicate(q.Viewer, q.Options.WithChannelNotes))

	if !q.Options.WithReplies {
		b = b.Where(selfThreadPredicate())
	}
	if q.Options.WithFiles {
		b = b.Where(filePredicate())
	}
	if !q.Options.WithRenotes {
		b = b.Where(renoteExclusionPredicate(q.SubjectID))
	}

	b = b.Where(visibilityPredicate(q.Viewer)).
		Where(sensitivePredicate(q.Viewer)).
		Where(mutePredicate(q.Viewer)).
		Where(blockPredicate(q.Viewer))

	if q.SinceID != "" {
		b = b.Where(sq.Gt{"posts.id": q.SinceID})
	}
	if q.UntilID != "" {
		b = b.Where(sq.Lt{"posts.id": q.UntilID})
	}

	return b.OrderBy("posts.id DESC").Limit(uint64(q.Limit)).ToSql()
}

// buildHydrateSQL собирает запрос гидрации: те же правила допуска поверх
// набора id. Блокировки здесь не применяются, это правило прямого пути.
func buildHydrateSQL(q domain.HydrateQuery) (string, []any, error) {
	b := psql.Select(postColumns...).
		From("posts").
		LeftJoin("channels ON channels.id = posts.channel_id").
		Where(sq.Eq{"posts.id": q.IDs}).
		Where(channelPredicate(q.Viewer, q.Options.WithChannelNotes))

	if !q.Options.WithReplies {
		b = b.Where(selfThreadPredicate())
	}
	if q.Options.WithFiles {
		b = b.Where(filePredicate())
	}
	if !q.Options.WithRenotes {
		b = b.Where(renoteExclusionPredicate(q.SubjectID))
	}

	b = b.Where(visibilityPredicate(q.Viewer)).
		Where(sensitivePredicate(q.Viewer)).
		Where(mutePredicate(q.Viewer))

	return b.OrderBy("posts.id DESC").Limit(uint64(q.Limit)).ToSql()
}

// QueryTimeline выполняет прямой запрос таймлайна к авторитетному хранилищу.
func (p *Postgres) QueryTimeline(ctx context.Context, q domain.TimelineQuery) ([]domain.Post, error) {
	sqlStr, args, err := buildTimelineSQL(q)
	if err != nil {
		return nil, fmt.Errorf("сборка запроса таймлайна: %w", err)
	}
	return p.queryPosts(ctx, "timeline_select", sqlStr, args)
}

// HydrateTimeline резолвит отфильтрованные id против хранилища.
// Порядок выборки не гарантирован, сортировка входит в запрос.
func (p *Postgres) HydrateTimeline(ctx context.Context, q domain.HydrateQuery) ([]domain.Post, error) {
	if len(q.IDs) == 0 {
		return nil, nil
	}
	sqlStr, args, err := buildHydrateSQL(q)
	if err != nil {
		return nil, fmt.Errorf("сборка запроса гидрации: %w", err)
	}
	return p.queryPosts(ctx, "timeline_hydrate", sqlStr, args)
}

// UserExists проверяет существование пользователя.
func (p *Postgres) UserExists(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "user_exists", "users", start, err)
	if err != nil {
		return false, fmt.Errorf("проверка пользователя: %w", err)
	}
	return exists, nil
}

func (p *Postgres) queryPosts(ctx context.Context, operation, sqlStr string, args []any) ([]domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, sqlStr, args...)
	metrics.ObserveNetworkRequest("postgres", operation, "posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("запрос постов: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("скан поста: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("чтение постов: %w", err)
	}
	return posts, nil
}

func scanPost(row pgx.Row) (domain.Post, error) {
	var (
		post       domain.Post
		visibility string
	)
	err := row.Scan(
		&post.ID,
		&post.UserID,
		&post.ReplyID,
		&post.ReplyUserID,
		&post.RenoteID,
		&post.RenoteUserID,
		&post.Text,
		&post.FileIDs,
		&post.HasPoll,
		&visibility,
		&post.VisibleUserIDs,
		&post.ChannelID,
		&post.IsSensitive,
		&post.CreatedAt,
	)
	post.Visibility = domain.Visibility(visibility)
	return post, err
}
