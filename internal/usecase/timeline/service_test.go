package timeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"feed-api/internal/domain"
)

type stubFanout struct {
	candidates []domain.CandidateSummary
	err        error
	calls      int
	gotKeys    []domain.TimelineKey
	gotSince   string
	gotUntil   string
}

func (s *stubFanout) GetMulti(_ context.Context, keys []domain.TimelineKey, sinceID, untilID string) ([]domain.CandidateSummary, error) {
	s.calls++
	s.gotKeys = keys
	s.gotSince = sinceID
	s.gotUntil = untilID
	return s.candidates, s.err
}

type stubRelations struct {
	following map[string]struct{}
	muting    map[string]struct{}
}

func (s *stubRelations) Following(context.Context, string) (map[string]struct{}, error) {
	return s.following, nil
}

func (s *stubRelations) Muting(context.Context, string) (map[string]struct{}, error) {
	return s.muting, nil
}

type stubRepo struct {
	hydratePage []domain.Post
	directPage  []domain.Post
	hydrateQs   []domain.HydrateQuery
	directQs    []domain.TimelineQuery
}

func (s *stubRepo) QueryTimeline(_ context.Context, q domain.TimelineQuery) ([]domain.Post, error) {
	s.directQs = append(s.directQs, q)
	return s.directPage, nil
}

func (s *stubRepo) HydrateTimeline(_ context.Context, q domain.HydrateQuery) ([]domain.Post, error) {
	s.hydrateQs = append(s.hydrateQs, q)
	return s.hydratePage, nil
}

func (s *stubRepo) UserExists(context.Context, string) (bool, error) { return true, nil }

func newService(fanout *stubFanout, repo *stubRepo, flags Flags) *Service {
	return NewService(fanout, &stubRelations{}, repo, flags, zerolog.Nop())
}

func cursorAt(offsetMs int) string {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return domain.CursorFromTime(base.Add(time.Duration(offsetMs) * time.Millisecond))
}

func publicCandidate(offsetMs int) domain.CandidateSummary {
	return domain.CandidateSummary{ID: cursorAt(offsetMs), UserID: "subject", Visibility: domain.VisibilityPublic}
}

func postFor(c domain.CandidateSummary) domain.Post {
	return domain.Post{ID: c.ID, UserID: c.UserID, Visibility: c.Visibility}
}

func TestFanoutDisabledGoesDirect(t *testing.T) {
	fanout := &stubFanout{}
	repo := &stubRepo{directPage: []domain.Post{postFor(publicCandidate(1))}}
	svc := newService(fanout, repo, Flags{FanoutEnabled: false, DBFallbackEnabled: true})

	page, err := svc.UserTimeline(context.Background(), Request{SubjectID: "subject", Options: domain.TimelineOptions{WithRenotes: true}})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if fanout.calls != 0 {
		t.Fatalf("при выключенном фанауте кэш не читается")
	}
	if len(repo.directQs) != 1 || len(page) != 1 {
		t.Fatalf("ожидали один прямой запрос и его страницу")
	}
}

func TestOpenLowerBoundGoesDirect(t *testing.T) {
	fanout := &stubFanout{}
	repo := &stubRepo{}
	svc := newService(fanout, repo, Flags{FanoutEnabled: true, DBFallbackEnabled: true})

	_, err := svc.UserTimeline(context.Background(), Request{
		SubjectID: "subject",
		Options:   domain.TimelineOptions{WithRenotes: true},
		SinceID:   cursorAt(1),
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if fanout.calls != 0 || len(repo.directQs) != 1 {
		t.Fatalf("нижняя граница без верхней должна уводить в прямой запрос")
	}
}

func TestBothBoundsStayOnFanout(t *testing.T) {
	c := publicCandidate(2)
	fanout := &stubFanout{candidates: []domain.CandidateSummary{c}}
	repo := &stubRepo{hydratePage: []domain.Post{postFor(c)}}
	svc := newService(fanout, repo, Flags{FanoutEnabled: true, DBFallbackEnabled: true})

	page, err := svc.UserTimeline(context.Background(), Request{
		SubjectID: "subject",
		Options:   domain.TimelineOptions{WithRenotes: true},
		SinceID:   cursorAt(1),
		UntilID:   cursorAt(10),
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if fanout.calls != 1 {
		t.Fatalf("обе границы обслуживаются кэшем")
	}
	if len(repo.directQs) != 0 {
		t.Fatalf("прямой запрос не нужен при попадании в кэш")
	}
	if len(page) != 1 || page[0].ID != c.ID {
		t.Fatalf("ожидали гидрированную страницу")
	}
}

func TestFallbackOnEmptyHydration(t *testing.T) {
	fanout := &stubFanout{candidates: []domain.CandidateSummary{publicCandidate(1)}}
	direct := []domain.Post{postFor(publicCandidate(3))}
	repo := &stubRepo{hydratePage: nil, directPage: direct}
	svc := newService(fanout, repo, Flags{FanoutEnabled: true, DBFallbackEnabled: true})

	page, err := svc.UserTimeline(context.Background(), Request{SubjectID: "subject", Options: domain.TimelineOptions{WithRenotes: true}})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(repo.hydrateQs) != 1 {
		t.Fatalf("сначала должна пройти гидрация")
	}
	if len(repo.directQs) != 1 {
		t.Fatalf("пустая гидрация при включённом фолбэке ведёт в БД")
	}
	if len(page) != 1 || page[0].ID != direct[0].ID {
		t.Fatalf("ожидали страницу прямого запроса")
	}
}

func TestEmptyWithoutFallbackReturnsEmptyPage(t *testing.T) {
	fanout := &stubFanout{}
	repo := &stubRepo{}
	svc := newService(fanout, repo, Flags{FanoutEnabled: true, DBFallbackEnabled: false})

	page, err := svc.UserTimeline(context.Background(), Request{SubjectID: "subject", Options: domain.TimelineOptions{WithRenotes: true}})
	if err != nil {
		t.Fatalf("пустая страница — валидный результат: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("ожидали пустую страницу")
	}
	if len(repo.directQs) != 0 {
		t.Fatalf("без фолбэка прямой запрос не выполняется")
	}
}

func TestCandidatesSortedAndTruncated(t *testing.T) {
	var candidates []domain.CandidateSummary
	for i := 1; i <= 25; i++ {
		candidates = append(candidates, publicCandidate(i))
	}
	c := publicCandidate(25)
	fanout := &stubFanout{candidates: candidates}
	repo := &stubRepo{hydratePage: []domain.Post{postFor(c)}}
	svc := newService(fanout, repo, Flags{FanoutEnabled: true, DBFallbackEnabled: true})

	_, err := svc.UserTimeline(context.Background(), Request{
		SubjectID: "subject",
		Options:   domain.TimelineOptions{WithRenotes: true},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(repo.hydrateQs) != 1 {
		t.Fatalf("ожидали одну гидрацию")
	}
	ids := repo.hydrateQs[0].IDs
	if len(ids) != 20 {
		t.Fatalf("ожидали усечение до 2×limit, получили %d", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] <= ids[i] {
			t.Fatalf("id должны убывать: %s <= %s", ids[i-1], ids[i])
		}
	}
	if ids[0] != cursorAt(25) {
		t.Fatalf("самый новый кандидат должен быть первым")
	}
}

func TestSmallCachePageNotPadded(t *testing.T) {
	candidates := []domain.CandidateSummary{publicCandidate(1), publicCandidate(2), publicCandidate(3)}
	hydrated := []domain.Post{postFor(candidates[2]), postFor(candidates[1]), postFor(candidates[0])}
	fanout := &stubFanout{candidates: candidates}
	repo := &stubRepo{hydratePage: hydrated}
	svc := newService(fanout, repo, Flags{FanoutEnabled: true, DBFallbackEnabled: true})

	page, err := svc.UserTimeline(context.Background(), Request{
		SubjectID: "subject",
		Options:   domain.TimelineOptions{WithRenotes: true},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("страница не добивается до limit: ожидали 3, получили %d", len(page))
	}
	if len(repo.directQs) != 0 {
		t.Fatalf("непустая гидрация не требует фолбэка")
	}
}

func TestInvalidCursorRejectedBeforeFetch(t *testing.T) {
	fanout := &stubFanout{}
	repo := &stubRepo{}
	svc := newService(fanout, repo, Flags{FanoutEnabled: true, DBFallbackEnabled: true})

	_, err := svc.UserTimeline(context.Background(), Request{
		SubjectID: "subject",
		Options:   domain.TimelineOptions{WithRenotes: true},
		UntilID:   "мусор",
	})
	if !errors.Is(err, domain.ErrInvalidCursor) {
		t.Fatalf("ожидали ErrInvalidCursor, получили %v", err)
	}
	if fanout.calls != 0 || len(repo.directQs) != 0 || len(repo.hydrateQs) != 0 {
		t.Fatalf("некорректный курсор отклоняется до любых чтений")
	}
}

func TestSinceDateTranslatedToCursor(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := publicCandidate(1)
	run := func(req Request) string {
		fanout := &stubFanout{candidates: []domain.CandidateSummary{c}}
		repo := &stubRepo{hydratePage: []domain.Post{postFor(c)}}
		svc := newService(fanout, repo, Flags{FanoutEnabled: true, DBFallbackEnabled: true})
		if _, err := svc.UserTimeline(context.Background(), req); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		return fanout.gotSince
	}

	untilID := domain.CursorFromTime(at.Add(time.Hour))
	byDate := run(Request{SubjectID: "subject", Options: domain.TimelineOptions{WithRenotes: true}, SinceDate: at.UnixMilli(), UntilID: untilID})
	byCursor := run(Request{SubjectID: "subject", Options: domain.TimelineOptions{WithRenotes: true}, SinceID: domain.CursorFromTime(at), UntilID: untilID})
	if byDate == "" || byDate != byCursor {
		t.Fatalf("sinceDate и эквивалентный sinceId дают одну границу: %q != %q", byDate, byCursor)
	}
}

func TestTimelineKeysSelection(t *testing.T) {
	cases := []struct {
		name string
		opts domain.TimelineOptions
		want []domain.TimelineVariant
	}{
		{"базовый", domain.TimelineOptions{}, []domain.TimelineVariant{domain.VariantBase}},
		{"с ответами", domain.TimelineOptions{WithReplies: true}, []domain.TimelineVariant{domain.VariantBase, domain.VariantWithReplies}},
		{"с каналами", domain.TimelineOptions{WithChannelNotes: true}, []domain.TimelineVariant{domain.VariantBase, domain.VariantWithChannel}},
		{"только файлы", domain.TimelineOptions{WithFiles: true}, []domain.TimelineVariant{domain.VariantFiles}},
		{"файлы и ответы", domain.TimelineOptions{WithFiles: true, WithReplies: true}, []domain.TimelineVariant{domain.VariantFiles, domain.VariantFilesReplies}},
		{"файлы и каналы", domain.TimelineOptions{WithFiles: true, WithChannelNotes: true}, []domain.TimelineVariant{domain.VariantFiles, domain.VariantFilesChannel}},
	}
	for _, tc := range cases {
		keys := timelineKeys("subject", tc.opts)
		if len(keys) != len(tc.want) {
			t.Fatalf("%s: ожидали %d ключей, получили %d", tc.name, len(tc.want), len(keys))
		}
		for i, key := range keys {
			if key.UserID != "subject" || key.Variant != tc.want[i] {
				t.Fatalf("%s: ожидали вариант %s, получили %s", tc.name, tc.want[i], key.Variant)
			}
		}
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{0: 10, -5: 10, 1: 1, 50: 50, 100: 100, 500: 100}
	for in, want := range cases {
		if got := clampLimit(in); got != want {
			t.Fatalf("clampLimit(%d): ожидали %d, получили %d", in, want, got)
		}
	}
}
