package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"feed-api/internal/adapters/fanout"
	"feed-api/internal/adapters/relcache"
	"feed-api/internal/adapters/repo"
	"feed-api/internal/domain"
	"feed-api/internal/infra/cache"
	"feed-api/internal/infra/config"
	"feed-api/internal/infra/db"
	httpinfra "feed-api/internal/infra/http"
	infralog "feed-api/internal/infra/log"
	"feed-api/internal/infra/metrics"
	"feed-api/internal/usecase/timeline"
)

func main() {
	cfg := config.Load()
	logger := infralog.NewLogger(cfg.AppEnv).With().Str("instance", uuid.NewString()).Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	redisClient, err := cache.NewClient(cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к Redis")
	}
	defer redisClient.Close()

	posts := repo.NewPostgres(pool)
	fanoutReader := fanout.NewReader(redisClient, cfg.Fanout.MaxDepth)
	relations := relcache.New(redisClient, pool, cfg.Relations.CacheTTL)
	timelineSvc := timeline.NewService(
		fanoutReader,
		relations,
		posts,
		timeline.Flags{FanoutEnabled: cfg.Fanout.Enabled, DBFallbackEnabled: cfg.Fanout.DBFallback},
		logger.With().Str("component", "timeline").Logger(),
	)

	srv := httpinfra.NewServer(logger)
	srv.Router.Get("/api/v1/users/{userID}/timeline", userTimelineHandler(timelineSvc, posts, logger))

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")
	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func userTimelineHandler(svc *timeline.Service, posts domain.PostRepo, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseTimelineRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}

		exists, err := posts.UserExists(r.Context(), req.SubjectID)
		if err != nil {
			logger.Error().Err(err).Msg("api: проверка пользователя")
			writeError(w, http.StatusInternalServerError, "INTERNAL", "внутренняя ошибка")
			return
		}
		if !exists {
			writeError(w, http.StatusNotFound, "NO_SUCH_USER", domain.ErrNoSuchUser.Error())
			return
		}

		page, err := svc.UserTimeline(r.Context(), req)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidCursor) {
				writeError(w, http.StatusBadRequest, "INVALID_CURSOR", err.Error())
				return
			}
			logger.Error().Err(err).Str("subject", req.SubjectID).Msg("api: таймлайн")
			writeError(w, http.StatusInternalServerError, "INTERNAL", "внутренняя ошибка")
			return
		}
		writeJSON(w, packPosts(page))
	}
}

func parseTimelineRequest(r *http.Request) (timeline.Request, error) {
	req := timeline.Request{
		SubjectID: chi.URLParam(r, "userID"),
		ViewerID:  r.Header.Get("X-Viewer-Id"),
		Options:   domain.TimelineOptions{WithRenotes: true},
	}
	q := r.URL.Query()

	boolParams := []struct {
		name string
		dst  *bool
	}{
		{"withReplies", &req.Options.WithReplies},
		{"withRenotes", &req.Options.WithRenotes},
		{"withChannelNotes", &req.Options.WithChannelNotes},
		{"withFiles", &req.Options.WithFiles},
		{"excludeNsfw", &req.Options.ExcludeNSFW},
	}
	for _, p := range boolParams {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return timeline.Request{}, fmt.Errorf("параметр %s: %w", p.name, err)
		}
		*p.dst = value
	}

	if raw := q.Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 || value > 100 {
			return timeline.Request{}, fmt.Errorf("параметр limit вне диапазона 1..100")
		}
		req.Limit = value
	}
	req.SinceID = q.Get("sinceId")
	req.UntilID = q.Get("untilId")
	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"sinceDate", &req.SinceDate},
		{"untilDate", &req.UntilDate},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return timeline.Request{}, fmt.Errorf("параметр %s: %w", p.name, err)
		}
		*p.dst = value
	}
	return req, nil
}

// postDTO — публичное представление поста; упаковка вызывается только
// после того, как подсистема таймлайна вернула страницу.
type postDTO struct {
	ID             string   `json:"id"`
	UserID         string   `json:"userId"`
	ReplyID        *string  `json:"replyId,omitempty"`
	RenoteID       *string  `json:"renoteId,omitempty"`
	Text           *string  `json:"text,omitempty"`
	FileIDs        []string `json:"fileIds,omitempty"`
	HasPoll        bool     `json:"hasPoll,omitempty"`
	Visibility     string   `json:"visibility"`
	VisibleUserIDs []string `json:"visibleUserIds,omitempty"`
	ChannelID      *string  `json:"channelId,omitempty"`
	IsSensitive    bool     `json:"isSensitive,omitempty"`
	CreatedAt      string   `json:"createdAt"`
}

func packPosts(page []domain.Post) []postDTO {
	out := make([]postDTO, 0, len(page))
	for _, p := range page {
		dto := postDTO{
			ID:          p.ID,
			UserID:      p.UserID,
			ReplyID:     p.ReplyID,
			RenoteID:    p.RenoteID,
			Text:        p.Text,
			FileIDs:     p.FileIDs,
			HasPoll:     p.HasPoll,
			Visibility:  string(p.Visibility),
			ChannelID:   p.ChannelID,
			IsSensitive: p.IsSensitive,
			CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if p.Visibility == domain.VisibilitySpecified {
			dto.VisibleUserIDs = p.VisibleUserIDs
		}
		out = append(out, dto)
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": msg}})
}
