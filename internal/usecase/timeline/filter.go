package timeline

import "feed-api/internal/domain"

// Admit решает, допустим ли кандидат из фанаут-индекса для зрителя.
// Порядок правил фиксирован: мьюты, чистые репосты, чувствительность,
// specified, followers. Первое нарушенное правило отклоняет кандидата.
// Прямой путь воспроизводит те же правила на уровне SQL-предикатов.
func Admit(c domain.CandidateSummary, viewer domain.ViewerContext, opts domain.TimelineOptions) bool {
	for _, id := range c.Refs().RelatedUserIDs() {
		if viewer.Mutes(id) {
			return false
		}
	}
	if c.IsPureRenote() && !opts.WithRenotes {
		return false
	}
	if c.IsSensitive && viewer.ViewerID != c.UserID {
		return false
	}
	switch c.Visibility {
	case domain.VisibilitySpecified:
		if viewer.ViewerID == "" {
			return false
		}
		if viewer.ViewerID != c.UserID && !containsID(c.VisibleUserIDs, viewer.ViewerID) {
			return false
		}
	case domain.VisibilityFollowers:
		if viewer.ViewerID == "" {
			return false
		}
		if viewer.ViewerID != c.UserID && !viewer.Follows(c.UserID) {
			return false
		}
	}
	return true
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
